package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrMalformedKey is returned for object keys that do not follow the
	// {organizer}/{event}/{subfolder}/{filename} layout.
	ErrMalformedKey = errors.New("malformed object key")
	// ErrIgnored is returned for well-formed keys outside the raw subfolder.
	ErrIgnored = errors.New("object not in raw subfolder")
)

// ObjectKey is a storage key split into its layout segments.
type ObjectKey struct {
	TenantID  string
	EventID   string
	Subfolder string
	Filename  string
}

// ParseKey URL-decodes key and splits it into segments. Filenames may
// themselves contain slashes.
func ParseKey(key, rawMarker string) (ObjectKey, error) {
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return ObjectKey{}, fmt.Errorf("%w: %q: %v", ErrMalformedKey, key, err)
	}

	parts := strings.SplitN(decoded, "/", 4)
	if len(parts) < 4 {
		return ObjectKey{}, fmt.Errorf("%w: %q", ErrMalformedKey, decoded)
	}
	for _, p := range parts {
		if p == "" {
			return ObjectKey{}, fmt.Errorf("%w: %q has an empty segment", ErrMalformedKey, decoded)
		}
	}

	k := ObjectKey{TenantID: parts[0], EventID: parts[1], Subfolder: parts[2], Filename: parts[3]}
	if k.Subfolder != rawMarker {
		return k, ErrIgnored
	}
	return k, nil
}

// Key reassembles the decoded storage key.
func (k ObjectKey) Key() string {
	return strings.Join([]string{k.TenantID, k.EventID, k.Subfolder, k.Filename}, "/")
}

// ObjectCreated is one stored object extracted from a notification.
type ObjectCreated struct {
	Bucket    string
	Key       string
	EventTime time.Time
	// Metadata carried inline by the notification, when the source sends it.
	Metadata map[string]string
}

// Notification is an object-created payload. S3 and MinIO deliver a
// Records list; EventBridge wraps a single object in detail.
type Notification struct {
	Records []s3Record         `json:"Records"`
	Detail  *eventBridgeDetail `json:"detail"`
	Time    time.Time          `json:"time"`
}

type s3Record struct {
	EventName string    `json:"eventName"`
	EventTime time.Time `json:"eventTime"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key          string            `json:"key"`
			Size         int64             `json:"size"`
			UserMetadata map[string]string `json:"userMetadata"`
		} `json:"object"`
	} `json:"s3"`
}

type eventBridgeDetail struct {
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key  string `json:"key"`
		Size int64  `json:"size"`
	} `json:"object"`
}

// ParseNotification decodes body into the objects it announces.
func ParseNotification(body []byte) ([]ObjectCreated, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	return n.Objects(), nil
}

// Objects flattens the notification. Records that are not object-created
// events (deletes sent to the same webhook) are skipped.
func (n Notification) Objects() []ObjectCreated {
	var out []ObjectCreated
	for _, r := range n.Records {
		if r.EventName != "" && !strings.Contains(r.EventName, "ObjectCreated") {
			continue
		}
		out = append(out, ObjectCreated{
			Bucket:    r.S3.Bucket.Name,
			Key:       r.S3.Object.Key,
			EventTime: r.EventTime,
			Metadata:  normalizeMetadata(r.S3.Object.UserMetadata),
		})
	}
	if n.Detail != nil {
		out = append(out, ObjectCreated{
			Bucket:    n.Detail.Bucket.Name,
			Key:       n.Detail.Object.Key,
			EventTime: n.Time,
		})
	}
	return out
}

// photographerKeys are the metadata keys photographer apps use, in order
// of preference.
var photographerKeys = []string{"photographer-id", "photographer", "instagram-handle"}

// PhotographerID picks the photographer identifier out of object metadata.
func PhotographerID(meta map[string]string) string {
	meta = normalizeMetadata(meta)
	for _, k := range photographerKeys {
		if v := strings.TrimSpace(meta[k]); v != "" {
			return v
		}
	}
	return ""
}

// normalizeMetadata lowercases keys and strips the x-amz-meta- prefix MinIO
// keeps on webhook metadata.
func normalizeMetadata(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		k = strings.ToLower(k)
		k = strings.TrimPrefix(k, "x-amz-meta-")
		out[k] = v
	}
	return out
}
