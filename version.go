package main

// 编译时通过 -ldflags 注入:
//
//	go build -ldflags "-X main.Version=v1.2.0 -X main.BuildTime=... -X main.GitCommit=..."
var (
	Version   = "v0.0.0-dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
