// Package dashboard embeds the optional static admin dashboard asset
// bundle (SPEC_FULL §A.5), grounded on the teacher's spa_mount.go. The
// stack ships with only a placeholder page; a real dashboard build can
// replace dist/ before compiling without touching Go code.
package dashboard

import (
	"embed"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
)

//go:embed dist/*
var embeddedAssets embed.FS

// Mount serves the embedded dashboard bundle at "/", falling back to
// index.html for any route not under /api or /swagger.
func Mount(r *gin.Engine, logger *slog.Logger) {
	fs, err := static.EmbedFolder(embeddedAssets, "dist")
	if err != nil {
		if logger != nil {
			logger.Error("failed to mount embedded dashboard assets", "error", err)
		}
		return
	}

	r.Use(static.Serve("/", fs))
	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.RequestURI, "/api") || strings.HasPrefix(c.Request.RequestURI, "/swagger") {
			return
		}
		index, err := fs.Open("index.html")
		if err != nil {
			if logger != nil {
				logger.Error("failed to open dashboard index.html", "error", err)
			}
			return
		}
		defer index.Close()
		stat, _ := index.Stat()
		http.ServeContent(c.Writer, c.Request, "index.html", stat.ModTime(), index)
	})
}
