package main

//go:generate swag init -g cmd/server/main.go -o docs

// @title           Agrocycle API
// @version         0.1.0
// @description     Block-gated weather resolution cycles: wagers, farms, consensus and settlement.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
