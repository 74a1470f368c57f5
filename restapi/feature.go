// Package restapi surfaces the server's administrative REST API over gin, with
// Okta OAuth2 bearer token verification on every endpoint.
package restapi

import (
	"context"
	"fmt"
	log "log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/vellumdb/vellum/database"
	"github.com/vellumdb/vellum/server"
	"github.com/vellumdb/vellum/upgrade"
)

const FeatureName = "RestAPI"

// Feature runs the admin HTTP endpoint. It stays down on an upgrade run, where
// the server exits right after the sweep.
type Feature struct {
	srv            *server.Server
	dbFeature      *database.Feature
	upgradeFeature *upgrade.Feature

	endpoint string
	httpSrv  *http.Server
}

var _ server.Feature = (*Feature)(nil)

func NewFeature(srv *server.Server, dbFeature *database.Feature, upgradeFeature *upgrade.Feature) *Feature {
	return &Feature{
		srv:            srv,
		dbFeature:      dbFeature,
		upgradeFeature: upgradeFeature,
	}
}

func (f *Feature) Name() string {
	return FeatureName
}

func (f *Feature) StartsAfter() []string {
	return []string{database.FeatureName, upgrade.FeatureName}
}

func (f *Feature) CollectOptions(flags *pflag.FlagSet) {
	flags.StringVar(&f.endpoint, "http.endpoint", "localhost:8080", "address the admin REST API listens on")
}

func (f *Feature) ValidateOptions() error {
	return nil
}

// Start registers the endpoint handlers and serves in the background.
func (f *Feature) Start(ctx context.Context) error {
	if f.srv.IsShutdownRequested() {
		return nil
	}

	// Simple closure for header token verification.
	verifyHeaderToken := func(realHandler func(c *gin.Context)) func(c *gin.Context) {
		return func(c *gin.Context) {
			if verify(c) {
				realHandler(c)
			}
		}
	}

	router := gin.Default()
	router.GET("/healthz", f.getHealth)

	methods := NewMethodSet()
	for _, err := range []error{
		methods.RegisterMethod(GET, "/databases", f.getDatabases),
		methods.RegisterMethod(GET_ONE, "/databases/:name", f.getDatabaseByName),
		methods.RegisterMethod(POST, "/databases", f.postDatabase),
		methods.RegisterMethod(DELETE, "/databases/:name", f.deleteDatabase),
		methods.RegisterMethod(GET, "/upgrade-status", f.getUpgradeStatus),
	} {
		if err != nil {
			return err
		}
	}

	v1 := router.Group("/api/v1")
	{
		for _, rm := range methods.Methods() {
			switch rm.Verb {
			case GET:
				fallthrough
			case GET_ONE:
				v1.GET(rm.Path, verifyHeaderToken(rm.Handler))
			case DELETE:
				v1.DELETE(rm.Path, verifyHeaderToken(rm.Handler))
			case POST:
				v1.POST(rm.Path, verifyHeaderToken(rm.Handler))
			case PUT:
				v1.PUT(rm.Path, verifyHeaderToken(rm.Handler))
			case PATCH:
				v1.PATCH(rm.Path, verifyHeaderToken(rm.Handler))
			default:
				return fmt.Errorf("HTTP verb %d not supported", rm.Verb)
			}
		}
	}

	f.httpSrv = &http.Server{
		Addr:    f.endpoint,
		Handler: router,
	}
	go func() {
		if err := f.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(fmt.Sprintf("admin REST API stopped, details: %v", err))
		}
	}()
	log.Info(fmt.Sprintf("admin REST API listening on %s", f.endpoint))
	return nil
}

// Stop shuts the HTTP listener down.
func (f *Feature) Stop(ctx context.Context) error {
	if f.httpSrv == nil {
		return nil
	}
	return f.httpSrv.Shutdown(ctx)
}

func (f *Feature) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (f *Feature) getDatabases(c *gin.Context) {
	type databaseInfo struct {
		Name    string `json:"name"`
		System  bool   `json:"system"`
		Version int    `json:"version"`
	}
	dbs := f.dbFeature.Registry().Snapshot()
	r := make([]databaseInfo, 0, len(dbs))
	for _, db := range dbs {
		r = append(r, databaseInfo{
			Name:    db.Name(),
			System:  db.IsSystem(),
			Version: db.Version(),
		})
	}
	c.IndentedJSON(http.StatusOK, r)
}

func (f *Feature) getDatabaseByName(c *gin.Context) {
	name := c.Param("name")
	db, ok := f.dbFeature.Registry().Database(name)
	if !ok {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": fmt.Sprintf("database '%s' not found", name)})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{
		"id":      db.ID().String(),
		"name":    db.Name(),
		"system":  db.IsSystem(),
		"version": db.Version(),
	})
}

func (f *Feature) postDatabase(c *gin.Context) {
	var body struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	db, err := f.dbFeature.Registry().Create(c.Request.Context(), body.Name)
	if err != nil {
		c.IndentedJSON(http.StatusConflict, gin.H{"message": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusCreated, gin.H{
		"id":   db.ID().String(),
		"name": db.Name(),
	})
}

func (f *Feature) deleteDatabase(c *gin.Context) {
	name := c.Param("name")
	if err := f.dbFeature.Registry().Drop(c.Request.Context(), name); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (f *Feature) getUpgradeStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{
		"upgradeRequested": f.upgradeFeature.IsUpgradeRequested(),
		"targetVersion":    upgrade.TargetVersion,
	})
}
