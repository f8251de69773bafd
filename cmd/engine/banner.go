package main

import (
	"fmt"
	"strings"

	"golang.org/x/text/width"
)

const (
	bannerWidth = 43
	ruleWidth   = 46
	statWidth   = 42
)

// displayWidth counts terminal columns; wide and fullwidth runes take two.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

// center pads s with spaces to w columns.
func center(s string, w int) string {
	pad := w - displayWidth(s)
	if pad <= 0 {
		return s
	}
	left := pad / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left)
}

func printBanner(name, version string) {
	fmt.Println()
	fmt.Printf("\033[36;1m  ┌%s┐\033[0m\n", strings.Repeat("─", bannerWidth))
	fmt.Printf("\033[36;1m  │\033[0m%s\033[36;1m│\033[0m\n", center(name+"  "+version, bannerWidth))
	fmt.Printf("\033[36;1m  │\033[0m%s\033[36;1m│\033[0m\n", center("event runtime · headless", bannerWidth))
	fmt.Printf("\033[36;1m  └%s┘\033[0m\n", strings.Repeat("─", bannerWidth))
	fmt.Println()
}

func sectionRule(title string) string {
	lineLen := ruleWidth - displayWidth(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	return fmt.Sprintf("── %s %s", title, strings.Repeat("─", lineLen))
}

func printSection(title string) {
	fmt.Printf("  \033[33m%s\033[0m\n", sectionRule(title))
}

func statLine(label string, count int) string {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := statWidth - displayWidth(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	return fmt.Sprintf("%s \033[90m%s\033[0m \033[32m%s\033[0m", label, strings.Repeat("·", dotsLen), numStr)
}

func printStat(label string, count int) {
	fmt.Printf("  %s\n", statLine(label, count))
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}
