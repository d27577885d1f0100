package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"
	"go.uber.org/zap"

	"newcamera/pkg/app"
	"newcamera/pkg/camera"
	"newcamera/pkg/config"
	"newcamera/pkg/ov"
	"newcamera/pkg/preview"
	"newcamera/pkg/storage"
	"newcamera/pkg/utils"
	"newcamera/pkg/utils/ps"
	"newcamera/pkg/webdav"
)

type server struct {
	// ctx outlives requests; session operations must not be cut short
	// by a client going away.
	ctx context.Context

	cfg        *config.Config
	controller *camera.Controller
	page       *app.Page
	surface    *preview.Surface
	library    *storage.Library
	webdav     *webdav.Server
	logger     *zap.SugaredLogger
}

func (s *server) routes(staticsDir string) (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(utils.Cors())
	if staticsDir != "" {
		if err := registerStaticsDir(r, staticsDir, "/"); err != nil {
			return nil, err
		}
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("page not found"))
	})

	apiRouter := r.Group("/api")

	deviceRouter := apiRouter.Group("/device")
	deviceRouter.GET("/realtime/video", s.realtimeVideo)
	deviceRouter.POST("/photo", s.takePhoto)
	deviceRouter.PUT("/session", s.ctlSession)
	deviceRouter.GET("/status", s.status)
	deviceRouter.PUT("/webdav", s.ctlWebdav)

	imageRouter := apiRouter.Group("/images")
	imageRouter.GET("", s.listImages)
	imageRouter.GET("/latest", s.latestImage)
	imageRouter.GET("/:name", s.getImage)

	return r, nil
}

func (s *server) realtimeVideo(c *gin.Context) {
	if !s.controller.IsPreviewing() {
		c.JSON(http.StatusServiceUnavailable, jsend.SimpleErr("the preview is not running"))
		return
	}
	s.surface.ServeMJPEG(c)
}

func (s *server) takePhoto(c *gin.Context) {
	p := s.page.PhotoButtonClick(s.ctx)
	if p == "" {
		c.JSON(http.StatusInternalServerError, jsend.SimpleErr("failed to take photo"))
		return
	}

	c.JSON(http.StatusOK, jsend.Success(ov.Photo{Name: filepath.Base(p), Path: p}))
}

func (s *server) ctlSession(c *gin.Context) {
	switch c.Query("op") {
	case ov.SessionShow:
		s.page.OnNavigatedTo(s.ctx)
	case ov.SessionHide:
		s.page.OnNavigatedFrom(s.ctx)
	default:
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("unknown operation"))
		return
	}

	c.JSON(http.StatusOK, jsend.Success(s.controller.Snapshot()))
}

func (s *server) status(c *gin.Context) {
	st := ov.Status{
		Session: s.controller.Snapshot(),
		Device:  s.cfg.Device,
		Driver:  s.cfg.Driver,
		Page:    s.page.Current(),
		Webdav:  s.webdav.Running(),
	}
	if usage, err := ps.LibraryUsage(s.library.Dir()); err == nil {
		st.Disk = &usage
	} else {
		s.logger.Debugf("disk usage of %s: %s", s.library.Dir(), err)
	}

	c.JSON(http.StatusOK, jsend.Success(st))
}

func (s *server) ctlWebdav(c *gin.Context) {
	switch c.Query("op") {
	case ov.WebdavStart:
		if _, err := s.library.SaveFolder(); err != nil {
			internalErr(c, err)
			return
		}
		started, err := s.webdav.Start()
		if err != nil {
			internalErr(c, err)
			return
		}
		if !started {
			c.JSON(http.StatusOK, jsend.Success("the webdav service is already enabled"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(c.Request.Host))
	case ov.WebdavShutdown:
		if !s.webdav.Stop() {
			c.JSON(http.StatusOK, jsend.SimpleErr("the webdav service has been shut down"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(nil))
	default:
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("unknown operation"))
	}
}

func (s *server) listImages(c *gin.Context) {
	images, err := s.library.ListImages()
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(images))
}

func (s *server) latestImage(c *gin.Context) {
	name, err := s.library.LatestImageName()
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(name))
}

func (s *server) getImage(c *gin.Context) {
	p, err := s.library.ImagePath(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("image not found"))
		return
	}

	c.File(p)
}

func registerStaticsDir(group gin.IRoutes, dir, relativeGroup string) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("the specified directory %s does not exist", dir)
	}
	dir = filepath.ToSlash(filepath.Clean(dir))
	group.StaticFile(relativeGroup, filepath.Join(dir, "index.html"))
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			relativePath := path.Join(relativeGroup, strings.Replace(filepath.ToSlash(p), dir, "", 1))
			group.StaticFile(relativePath, p)
		}
		return nil
	})
}

func internalErr(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, jsend.SimpleErr(err.Error()))
}
