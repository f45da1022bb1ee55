package main

import (
	"github.com/fatih/color"

	"github.com/hiblaphp/parallel-sub000/statusstore"
)

func colorForStatus(s statusstore.Status) *color.Color {
	switch s {
	case statusstore.StatusCompleted:
		return color.New(color.FgGreen)
	case statusstore.StatusError, statusstore.StatusTimeout, statusstore.StatusSpawnError:
		return color.New(color.FgRed)
	case statusstore.StatusRunning, statusstore.StatusReceived:
		return color.New(color.FgYellow)
	case statusstore.StatusCancelled:
		return color.New(color.FgMagenta)
	default:
		return color.New(color.FgWhite)
	}
}
