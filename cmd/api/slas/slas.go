// Package slas records and reports response-time metrics measured in
// business hours.
package slas

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apppkg "github.com/aidly/aidly-go/cmd/api/app"
)

// FirstResponse stamps the first agent response on a ticket and stores
// the elapsed business hours since creation. Subsequent calls are
// no-ops so the metric reflects the first response only.
func FirstResponse(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var createdAt time.Time
		var firstResponded *time.Time
		err := a.DB.QueryRow(c.Request.Context(),
			`select created_at, first_responded_at from tickets where id=$1`, id).
			Scan(&createdAt, &firstResponded)
		if err != nil {
			apppkg.AbortError(c, http.StatusNotFound, "not_found", "ticket not found", nil)
			return
		}
		if firstResponded != nil {
			c.JSON(http.StatusOK, gin.H{"first_responded_at": firstResponded})
			return
		}
		now := time.Now().UTC()
		hours := a.Hours.Calculate(createdAt, now)
		if _, err := a.DB.Exec(c.Request.Context(),
			`update tickets set first_responded_at=$1, response_time_hours=$2, updated_at=now() where id=$3`,
			now, hours, id); err != nil {
			apppkg.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"first_responded_at": now, "response_time_hours": hours})
	}
}

// Metrics returns a ticket's response-time figures plus the running
// business-hours clock for tickets still awaiting a response.
func Metrics(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var createdAt time.Time
		var firstResponded *time.Time
		var responseHours *float64
		err := a.DB.QueryRow(c.Request.Context(),
			`select created_at, first_responded_at, response_time_hours from tickets where id=$1`, id).
			Scan(&createdAt, &firstResponded, &responseHours)
		if err != nil {
			apppkg.AbortError(c, http.StatusNotFound, "not_found", "ticket not found", nil)
			return
		}
		out := gin.H{
			"created_at":         createdAt,
			"within_hours":       a.Hours.Contains(time.Now()),
			"next_window_start":  a.Hours.NextStart(time.Now()),
			"first_responded_at": firstResponded,
		}
		if responseHours != nil {
			out["response_time_hours"] = *responseHours
		} else {
			out["elapsed_business_hours"] = a.Hours.Calculate(createdAt, time.Now().UTC())
		}
		c.JSON(http.StatusOK, out)
	}
}
