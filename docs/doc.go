// Package docs provides generated OpenAPI documentation.
//
// Dafmap API
//
//	@title			Dafmap API
//	@version		1.0
//	@description	Talmud page annotation API for running sessions, reviewing paused pages, and fetching page documents.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/dafmap
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/dafmap/serve.go -o ./swagger --parseDependency --parseInternal
