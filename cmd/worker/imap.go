package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	apppkg "github.com/aidly/aidly-go/cmd/api/app"
	"github.com/aidly/aidly-go/internal/emailclean"
)

var ticketRefRe = regexp.MustCompile(`\[TKT-(\d+)\]`)

var emailsIngested = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "emails_ingested_total",
	Help: "Inbound emails pulled from the mailbox",
})

func init() { prometheus.MustRegister(emailsIngested) }

// pollIMAP connects to the shared mailbox, pulls unseen messages through
// the cleaning pipeline and files them as tickets or comments.
func pollIMAP(ctx context.Context, c Config, db apppkg.DB, store apppkg.ObjectStore) error {
	addr := fmt.Sprintf("%s:993", c.IMAPHost)
	cli, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return err
	}
	defer cli.Logout()

	if err := cli.Login(c.IMAPUser, c.IMAPPass); err != nil {
		return err
	}

	mbox, err := cli.Select(c.IMAPFolder, false)
	if err != nil {
		return err
	}
	if mbox.Messages == 0 {
		return nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := cli.Search(criteria)
	if err != nil || len(uids) == 0 {
		return err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- cli.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	for msg := range messages {
		if msg == nil {
			continue
		}
		r := msg.GetBody(section)
		if r == nil {
			continue
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			log.Error().Err(err).Msg("read body")
			continue
		}

		key := fmt.Sprintf("email/%s.eml", uuid.NewString())
		if store != nil {
			if _, err := store.PutObject(ctx, c.MinIOBucket, key, bytes.NewReader(raw), int64(len(raw)),
				minio.PutObjectOptions{ContentType: "message/rfc822"}); err != nil {
				log.Error().Err(err).Msg("store raw email")
			}
		}

		if err := ingestMessage(ctx, db, raw, key); err != nil {
			log.Error().Err(err).Msg("ingest message")
			continue
		}

		seq := new(imap.SeqSet)
		seq.AddNum(msg.SeqNum)
		if err := cli.Store(seq, imap.AddFlags, []interface{}{imap.SeenFlag}, nil); err != nil {
			log.Error().Err(err).Msg("store flags")
		}
	}
	return <-done
}

// ingestMessage parses one raw RFC 822 message, cleans the preferred
// body part and files it against a ticket.
func ingestMessage(ctx context.Context, db apppkg.DB, raw []byte, storeKey string) error {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parse message: %w", err)
	}
	subject, _ := mr.Header.Subject()
	from := ""
	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		from = addrs[0].Address
	}
	content, isHTML := preferredPart(mr)
	body := emailclean.Clean(content, isHTML)

	var ticketID int64
	if m := ticketRefRe.FindStringSubmatch(subject); len(m) == 2 {
		if n, err := strconv.Atoi(m[1]); err == nil {
			if err := db.QueryRow(ctx, `select id from tickets where number=$1`, n).Scan(&ticketID); err != nil {
				ticketID = 0
			}
		}
	}

	if ticketID == 0 {
		if err := db.QueryRow(ctx,
			`insert into tickets (subject, body, status, requester_email) values ($1,$2,'new',$3) returning id`,
			subject, body, from).Scan(&ticketID); err != nil {
			return fmt.Errorf("create ticket: %w", err)
		}
	} else {
		if _, err := db.Exec(ctx,
			`insert into ticket_comments (ticket_id, body, is_internal) values ($1,$2,false)`,
			ticketID, body); err != nil {
			return fmt.Errorf("append comment: %w", err)
		}
	}

	if _, err := db.Exec(ctx,
		`insert into email_inbound (from_addr, subject, raw_store_key, status, ticket_id) values ($1,$2,$3,'processed',$4)`,
		from, subject, storeKey, ticketID); err != nil {
		return fmt.Errorf("record inbound email: %w", err)
	}
	emailsIngested.Inc()
	return nil
}

// preferredPart walks the MIME parts, favoring text/plain and falling
// back to text/html.
func preferredPart(mr *gomail.Reader) (string, bool) {
	var html string
	for {
		p, err := mr.NextPart()
		if err != nil {
			break
		}
		h, ok := p.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, err := h.ContentType()
		if err != nil {
			continue
		}
		b, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(ct, "text/plain"):
			return string(b), false
		case strings.HasPrefix(ct, "text/html") && html == "":
			html = string(b)
		}
	}
	return html, html != ""
}
