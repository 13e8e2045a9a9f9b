package main

import (
	_ "embed"

	"github.com/control-theory/logprobe/internal/probe"
)

// The two files every probe app consists of: the host descriptor at the
// site root and the HTTP handler under the function directory. The
// function's trigger bindings travel through the management API instead.
var (
	//go:embed assets/host.json
	hostJSON []byte

	//go:embed assets/index.js
	handlerJS []byte
)

func deployAssets(function string) []probe.Asset {
	return []probe.Asset{
		{RemotePath: "site/wwwroot/host.json", Data: hostJSON},
		{RemotePath: "site/wwwroot/" + function + "/index.js", Data: handlerJS},
	}
}
