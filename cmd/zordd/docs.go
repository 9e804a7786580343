package main

// General API documentation for swaggo. Regenerate with `swag init -g cmd/zordd/docs.go -o docs`.
//
// @title           Zord Coder API
// @version         1.0
// @description     HTTP API for a local GGUF coding assistant with per-client daily quotas.
//
// @contact.name   zord maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
