//go:build windows

package config

import (
	"os"
	"path/filepath"
)

func defaultDataDir() string {
	programData := os.Getenv("PROGRAMDATA")
	if programData == "" {
		programData = `C:\ProgramData`
	}
	return filepath.Join(programData, "oemlock")
}
