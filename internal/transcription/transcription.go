// Package transcription fetches diarized JSON transcripts from a
// transcription service or any HTTP location.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"call-grader-go/internal/logger"
	"call-grader-go/internal/transcript"
)

// maxBody caps a downloaded transcript.
const maxBody = 16 << 20

type Client struct {
	HTTP *http.Client
	// MaxElapsed bounds the retries of a single fetch.
	MaxElapsed time.Duration
	log        *logrus.Entry
}

func NewClient() *Client {
	return &Client{
		HTTP:       &http.Client{Timeout: 12 * time.Second},
		MaxElapsed: 12 * time.Second,
		log:        logger.New().WithField("component", "transcription"),
	}
}

// Fetch downloads and parses the transcript at url. Network failures and 5xx
// responses are retried with exponential backoff; 4xx responses and bodies
// without segments are not.
func (c *Client) Fetch(ctx context.Context, url string) (transcript.Document, error) {
	log := c.log.WithField("url", url)
	body, err := c.download(ctx, url)
	if err != nil {
		log.WithError(err).Warn("transcript download failed")
		return transcript.Document{}, err
	}
	doc, err := transcript.ParseJSON(body)
	if err != nil {
		return transcript.Document{}, fmt.Errorf("parse transcript: %w", err)
	}
	log.WithField("segments", len(doc.Segments)).Info("transcript fetched")
	return doc, nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.MaxElapsed

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("server error: %d %s", resp.StatusCode, truncate(b))
		case resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("download failed: %d %s", resp.StatusCode, truncate(b)))
		case len(b) == 0:
			return errors.New("empty body")
		}
		body = b
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

func truncate(b []byte) string {
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}
	return string(b)
}
