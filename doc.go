// Package branchscript compiles and executes a small interactive-
// narrative scripting language: line-oriented .script source lowers to
// a binary .story container, and a stepwise VM drives it one event at a
// time (Line, Choices, Command, End) between host-supplied decisions.
package branchscript
