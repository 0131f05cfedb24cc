package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/admin"
)

// Build metadata, overridden via -ldflags at release time.
var (
	appVersion = "default"
	commitHash = "default"
	buildDate  = "default"
	maintainer = "default"
)

func versionInfo() admin.VersionInfo {
	return admin.VersionInfo{
		AppVersion: appVersion,
		CommitHash: commitHash,
		BuildDate:  buildDate,
		Maintainer: maintainer,
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		v := versionInfo()
		fmt.Printf("version:    %s\ncommit:     %s\nbuild date: %s\nmaintainer: %s\n",
			v.AppVersion, v.CommitHash, v.BuildDate, v.Maintainer)
	},
}
