// Package events turns object storage notifications into UploadEvents and
// routes them to the pipeline that owns their path.
package events

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// UploadEvent identifies a newly finalized object in durable storage.
type UploadEvent struct {
	Bucket      string `json:"bucket"`
	ObjectPath  string `json:"object_path"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// IsZip reports whether the object looks like a ZIP archive, either by
// declared content type or by file extension.
func (e UploadEvent) IsZip() bool {
	return strings.Contains(strings.ToLower(e.ContentType), "zip") ||
		strings.HasSuffix(strings.ToLower(e.ObjectPath), ".zip")
}

// ParseNotification decodes a GCS object notification or an S3/MinIO bucket
// notification. Directory markers and non-create S3 events are dropped.
func ParseNotification(raw []byte) ([]UploadEvent, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty notification")
	}

	var head struct {
		Kind    string            `json:"kind"`
		Records []json.RawMessage `json:"Records"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}

	switch {
	case head.Kind == "storage#object":
		return parseGCS(raw)
	case len(head.Records) > 0:
		return parseS3(raw)
	default:
		return nil, fmt.Errorf("unable to determine notification type")
	}
}

func parseGCS(raw []byte) ([]UploadEvent, error) {
	var evt struct {
		Name        string `json:"name"`
		Bucket      string `json:"bucket"`
		ContentType string `json:"contentType"`
		Size        string `json:"size"`
	}
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("decode gcs notification: %w", err)
	}
	if evt.Name == "" || strings.HasSuffix(evt.Name, "/") {
		return nil, nil
	}

	var size int64
	if evt.Size != "" {
		n, err := strconv.ParseInt(evt.Size, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid gcs object size %q: %w", evt.Size, err)
		}
		size = n
	}

	return []UploadEvent{{
		Bucket:      evt.Bucket,
		ObjectPath:  evt.Name,
		ContentType: evt.ContentType,
		Size:        size,
	}}, nil
}

func parseS3(raw []byte) ([]UploadEvent, error) {
	var evt struct {
		Records []struct {
			EventName string `json:"eventName"`
			S3        struct {
				Bucket struct {
					Name string `json:"name"`
				} `json:"bucket"`
				Object struct {
					Key         string `json:"key"`
					Size        int64  `json:"size"`
					ContentType string `json:"contentType"`
				} `json:"object"`
			} `json:"s3"`
		} `json:"Records"`
	}
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("decode s3 notification: %w", err)
	}

	out := make([]UploadEvent, 0, len(evt.Records))
	for _, rec := range evt.Records {
		if rec.EventName != "" && !strings.Contains(rec.EventName, "ObjectCreated") {
			continue
		}
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("unescape key %q: %w", rec.S3.Object.Key, err)
		}
		if key == "" || strings.HasSuffix(key, "/") {
			continue
		}
		out = append(out, UploadEvent{
			Bucket:      rec.S3.Bucket.Name,
			ObjectPath:  key,
			ContentType: rec.S3.Object.ContentType,
			Size:        rec.S3.Object.Size,
		})
	}
	return out, nil
}
