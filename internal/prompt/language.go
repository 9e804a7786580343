package prompt

import "strings"

type languageHints struct {
	name  string
	hints []string
}

// Order matters: ties go to the earlier entry.
var languageTable = []languageHints{
	{"python", []string{"def ", "import ", "from ", "class ", "print(", "if __name__", "__init__", "self.", "elif ", "except:"}},
	{"javascript", []string{"function ", "const ", "let ", "var ", "=>", "console.log", "require(", "module.exports", "async "}},
	{"typescript", []string{"interface ", "type ", ": string", ": number", "private ", "public ", "readonly ", "import type"}},
	{"java", []string{"public class", "private void", "public static void", "system.out.println", "import java.", "@override"}},
	{"cpp", []string{"#include", "std::", "int main(", "cout <<", "endl", "namespace ", "template<", "::"}},
	{"rust", []string{"fn ", "let mut", "impl ", "pub fn", "use ", "println!", "match ", "some(", "none", "ok(", "err("}},
	{"go", []string{"package main", "func main()", "import (", "fmt.", "go func", "defer ", "chan ", "interface{}"}},
	{"bash", []string{"#!/bin/bash", "echo ", "if [", "fi", "export ", "source ", "chmod ", "awk ", "sed "}},
	{"html", []string{"<html", "<div", "<span", "<p>", "<!doctype", "class=", "id="}},
	{"css", []string{"{", "}", ":", ";", "color:", "background-", "margin:", "padding:", "@media"}},
	{"sql", []string{"select ", "from ", "where ", "insert ", "update ", "delete ", "join ", "create table"}},
}

// DetectLanguage guesses the language of a code snippet by counting
// indicator substrings. Returns "text" when nothing matches.
func DetectLanguage(code string) string {
	lower := strings.ToLower(code)
	best, bestScore := "text", 0
	for _, l := range languageTable {
		score := 0
		for _, h := range l.hints {
			if strings.Contains(lower, h) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = l.name, score
		}
	}
	return best
}

// CodeBlock fences code as markdown, detecting the language when lang is empty.
func CodeBlock(code, lang string) string {
	if lang == "" {
		lang = DetectLanguage(code)
	}
	return "```" + lang + "\n" + code + "\n```"
}

// Languages lists the names DetectLanguage can return, besides "text".
func Languages() []string {
	out := make([]string, 0, len(languageTable))
	for _, l := range languageTable {
		out = append(out, l.name)
	}
	return out
}

// KnownLanguage reports whether name is one of Languages.
func KnownLanguage(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, l := range languageTable {
		if l.name == name {
			return true
		}
	}
	return false
}
