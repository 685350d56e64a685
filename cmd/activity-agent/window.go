package main

import "github.com/vincentbai/activity-agent/internal/source"

// activeWindowProbe returns the platform's focused-window probe. The portable
// build has no OS hook, so polling stays disabled; platform files provide a
// real probe where one exists.
func activeWindowProbe() source.ActiveWindowFunc {
	return nil
}
