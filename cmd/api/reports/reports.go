// Package reports exposes the report execution engine over HTTP.
package reports

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	app "github.com/aidly/aidly-go/cmd/api/app"
	"github.com/aidly/aidly-go/cmd/api/auth"
	"github.com/aidly/aidly-go/cmd/api/ws"
	enginepkg "github.com/aidly/aidly-go/internal/reports"
)

type createReq struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Query       string   `json:"query" binding:"required"`
	Columns     []string `json:"columns"`
	Format      string   `json:"format" binding:"omitempty,oneof=csv json"`
}

// Create stores a new report definition. The query is validated up
// front so obviously broken reports never reach the scheduler.
func Create(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in createReq
		if err := c.ShouldBindJSON(&in); err != nil {
			errs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					errs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			app.AbortError(c, http.StatusBadRequest, "bad_request", "invalid report definition", errs)
			return
		}
		if err := enginepkg.ValidateQuery(in.Query); err != nil {
			app.AbortError(c, http.StatusBadRequest, "invalid_query", err.Error(), nil)
			return
		}
		format := in.Format
		if format == "" {
			format = "csv"
		}
		var createdBy *string
		if u, ok := c.Get("user"); ok {
			if au, ok := u.(auth.AuthUser); ok && au.ID != "" {
				createdBy = &au.ID
			}
		}
		id := uuid.NewString()
		if _, err := a.DB.Exec(c.Request.Context(),
			`insert into reports (id, name, description, query, columns, format, created_by, created_at)
			 values ($1,$2,$3,$4,$5,$6,$7,now())`,
			id, in.Name, in.Description, in.Query, in.Columns, format, createdBy); err != nil {
			app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": id})
	}
}

// List returns all report definitions.
func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := a.DB.Query(c.Request.Context(),
			`select id::text, name, coalesce(description,''), query, columns, format, last_executed_at, created_at
			 from reports order by created_at desc`)
		if err != nil {
			app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
			return
		}
		defer rows.Close()
		out := []enginepkg.Report{}
		for rows.Next() {
			var r enginepkg.Report
			if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Query, &r.Columns, &r.Format, &r.LastExecutedAt, &r.CreatedAt); err != nil {
				app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
				return
			}
			out = append(out, r)
		}
		c.JSON(http.StatusOK, out)
	}
}

func load(c *gin.Context, a *app.App, id string) (enginepkg.Report, bool) {
	var r enginepkg.Report
	err := a.DB.QueryRow(c.Request.Context(),
		`select id::text, name, coalesce(description,''), query, columns, format, last_executed_at, created_at
		 from reports where id=$1`, id).
		Scan(&r.ID, &r.Name, &r.Description, &r.Query, &r.Columns, &r.Format, &r.LastExecutedAt, &r.CreatedAt)
	if err != nil {
		app.AbortError(c, http.StatusNotFound, "not_found", "report not found", nil)
		return r, false
	}
	return r, true
}

// Get returns one report definition.
func Get(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, ok := load(c, a, c.Param("id"))
		if !ok {
			return
		}
		c.JSON(http.StatusOK, r)
	}
}

type executeReq struct {
	Parameters []any `json:"parameters"`
}

type exportReq struct {
	Parameters []any  `json:"parameters"`
	Format     string `json:"format" binding:"omitempty,oneof=csv json"`
}

func currentUserID(c *gin.Context) *string {
	if u, ok := c.Get("user"); ok {
		if au, ok := u.(auth.AuthUser); ok && au.ID != "" {
			return &au.ID
		}
	}
	return nil
}

// Execute runs a report synchronously and returns the execution record.
func Execute(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, ok := load(c, a, c.Param("id"))
		if !ok {
			return
		}
		var in executeReq
		if err := c.ShouldBindJSON(&in); err != nil && c.Request.ContentLength > 0 {
			app.AbortError(c, http.StatusBadRequest, "bad_request", err.Error(), nil)
			return
		}
		ex, err := a.Reports.Execute(c.Request.Context(), r, in.Parameters, enginepkg.TypeManual, currentUserID(c))
		publishStatus(c, a, ex)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "execution": ex})
			return
		}
		c.JSON(http.StatusOK, ex)
	}
}

// Export runs a report and materializes the result set to a file.
func Export(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, ok := load(c, a, c.Param("id"))
		if !ok {
			return
		}
		var in exportReq
		if err := c.ShouldBindJSON(&in); err != nil && c.Request.ContentLength > 0 {
			app.AbortError(c, http.StatusBadRequest, "bad_request", err.Error(), nil)
			return
		}
		format := in.Format
		if format == "" {
			format = r.Format
		}
		ex, err := a.Reports.ExecuteWithExport(c.Request.Context(), r, in.Parameters, format, enginepkg.TypeManual, currentUserID(c))
		publishStatus(c, a, ex)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "execution": ex})
			return
		}
		c.JSON(http.StatusOK, ex)
	}
}

// Stats reports trailing-30-day execution statistics.
func Stats(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := a.Reports.ExecutionStats(c.Request.Context(), c.Param("id"))
		if err != nil {
			app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

// GetExecution returns one execution record.
func GetExecution(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ex, err := a.Reports.GetExecution(c.Request.Context(), c.Param("id"))
		if err != nil {
			app.AbortError(c, http.StatusNotFound, "not_found", "execution not found", nil)
			return
		}
		c.JSON(http.StatusOK, ex)
	}
}

// Download resolves an execution's export file to a download URL.
func Download(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ex, err := a.Reports.GetExecution(c.Request.Context(), c.Param("id"))
		if err != nil {
			app.AbortError(c, http.StatusNotFound, "not_found", "execution not found", nil)
			return
		}
		if ex.FilePath == nil {
			app.AbortError(c, http.StatusNotFound, "no_export", "execution has no export file", nil)
			return
		}
		if mc, ok := a.M.(*minio.Client); ok {
			url, err := mc.PresignedGetObject(c.Request.Context(), a.Cfg.MinIOBucket, *ex.FilePath, 15*time.Minute, nil)
			if err != nil {
				app.AbortError(c, http.StatusInternalServerError, "presign", err.Error(), nil)
				return
			}
			c.JSON(http.StatusOK, gin.H{"url": url.String()})
			return
		}
		scheme := "http"
		if a.Cfg.MinIOUseSSL {
			scheme = "https"
		}
		c.JSON(http.StatusOK, gin.H{"url": fmt.Sprintf("%s://%s/%s/%s", scheme, a.Cfg.MinIOEndpoint, a.Cfg.MinIOBucket, *ex.FilePath)})
	}
}

func publishStatus(c *gin.Context, a *app.App, ex *enginepkg.Execution) {
	if ex == nil {
		return
	}
	ws.PublishEvent(c.Request.Context(), a.Q, ws.Event{Type: "execution_status", Data: ex})
}
