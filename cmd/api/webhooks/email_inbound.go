// Package webhooks accepts inbound email payloads from external mail
// gateways and routes them through the cleaning pipeline into tickets.
package webhooks

import (
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	apppkg "github.com/aidly/aidly-go/cmd/api/app"
	"github.com/aidly/aidly-go/internal/emailclean"
)

var emailsIngested = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "emails_ingested_total",
	Help: "Inbound emails accepted through the webhook",
})

func init() { prometheus.MustRegister(emailsIngested) }

type EmailInboundReq struct {
	From      string `json:"from" binding:"required"`
	Subject   string `json:"subject"`
	Body      string `json:"body" binding:"required"`
	IsHTML    bool   `json:"is_html"`
	MessageID string `json:"message_id"`
}

var ticketRefRe = regexp.MustCompile(`\[TKT-(\d+)\]`)

// EmailInbound cleans an inbound email and creates a ticket, or appends
// a comment when the subject references an existing ticket number.
func EmailInbound(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in EmailInboundReq
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		ctx := c.Request.Context()
		body := emailclean.Clean(in.Body, in.IsHTML)

		var ticketID int64
		if m := ticketRefRe.FindStringSubmatch(in.Subject); len(m) == 2 {
			if n, err := strconv.Atoi(m[1]); err == nil {
				if err := a.DB.QueryRow(ctx, `select id from tickets where number=$1`, n).Scan(&ticketID); err != nil {
					ticketID = 0
				}
			}
		}

		if ticketID == 0 {
			if err := a.DB.QueryRow(ctx,
				`insert into tickets (subject, body, status, requester_email) values ($1,$2,'new',$3) returning id`,
				in.Subject, body, in.From).Scan(&ticketID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			if _, err := a.DB.Exec(ctx,
				`insert into ticket_comments (ticket_id, body, is_internal) values ($1,$2,false)`,
				ticketID, body); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		if _, err := a.DB.Exec(ctx,
			`insert into email_inbound (message_id, from_addr, subject, status, ticket_id) values ($1,$2,$3,'processed',$4)`,
			in.MessageID, in.From, in.Subject, ticketID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		emailsIngested.Inc()
		c.JSON(http.StatusAccepted, gin.H{"ticket_id": ticketID})
	}
}
