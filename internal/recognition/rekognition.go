package recognition

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"

	"github.com/your-org/racephoto/internal/models"
)

var (
	ErrCollectionNotFound = errors.New("face collection not found")
	ErrCollectionExists   = errors.New("face collection already exists")
	// ErrNoFaceInImage is returned by SearchFacesByImage when the query image
	// contains no detectable face.
	ErrNoFaceInImage = errors.New("no face in image")
	// ErrInvalidImage marks images the provider can never process
	// (unsupported format, too large, unreadable object).
	ErrInvalidImage = errors.New("invalid image")
)

// TextType is the detector's classification of a text token.
type TextType string

const (
	TextWord TextType = "WORD"
	TextLine TextType = "LINE"
)

// Box is a bounding box in ratios of the image size.
type Box struct {
	Left, Top, Width, Height float64
}

type TextDetection struct {
	Text       string
	Type       TextType
	Confidence float64
	Box        Box
}

type FaceMatch struct {
	FaceID          string
	ExternalImageID string
	Similarity      float64
}

// Client wraps the Rekognition API for text detection and face collections.
type Client struct {
	api     *rekognition.Client
	timeout time.Duration
}

func NewClient(awsCfg aws.Config, timeout time.Duration) *Client {
	return &Client{
		api:     rekognition.NewFromConfig(awsCfg),
		timeout: timeout,
	}
}

func (c *Client) DetectText(ctx context.Context, img models.Image) ([]TextDetection, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	out, err := c.api.DetectText(ctx, &rekognition.DetectTextInput{Image: toImage(img)})
	if err != nil {
		return nil, fmt.Errorf("detect text %s: %w", img.Key, mapImageError(err, ErrInvalidImage))
	}

	detections := make([]TextDetection, 0, len(out.TextDetections))
	for _, t := range out.TextDetections {
		if t.DetectedText == nil {
			continue
		}
		d := TextDetection{
			Text:       aws.ToString(t.DetectedText),
			Type:       TextType(t.Type),
			Confidence: float64(aws.ToFloat32(t.Confidence)),
		}
		if t.Geometry != nil && t.Geometry.BoundingBox != nil {
			bb := t.Geometry.BoundingBox
			d.Box = Box{
				Left:   float64(aws.ToFloat32(bb.Left)),
				Top:    float64(aws.ToFloat32(bb.Top)),
				Width:  float64(aws.ToFloat32(bb.Width)),
				Height: float64(aws.ToFloat32(bb.Height)),
			}
		}
		detections = append(detections, d)
	}
	return detections, nil
}

func (c *Client) DescribeCollection(ctx context.Context, id string) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	_, err := c.api.DescribeCollection(ctx, &rekognition.DescribeCollectionInput{CollectionId: aws.String(id)})
	if err != nil {
		return fmt.Errorf("describe collection %s: %w", id, mapError(err))
	}
	return nil
}

func (c *Client) CreateCollection(ctx context.Context, id string) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	_, err := c.api.CreateCollection(ctx, &rekognition.CreateCollectionInput{CollectionId: aws.String(id)})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", id, mapError(err))
	}
	return nil
}

// IndexFaces adds up to maxFaces faces from img to the collection and returns
// the new face ids. Low quality detections are filtered by the provider.
func (c *Client) IndexFaces(ctx context.Context, collectionID string, img models.Image, externalID string, maxFaces int) ([]string, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	out, err := c.api.IndexFaces(ctx, &rekognition.IndexFacesInput{
		CollectionId:    aws.String(collectionID),
		Image:           toImage(img),
		ExternalImageId: aws.String(SanitizeExternalID(externalID)),
		MaxFaces:        aws.Int32(int32(maxFaces)),
		QualityFilter:   types.QualityFilterAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("index faces %s: %w", img.Key, mapImageError(err, ErrInvalidImage))
	}

	ids := make([]string, 0, len(out.FaceRecords))
	for _, r := range out.FaceRecords {
		if r.Face != nil && r.Face.FaceId != nil {
			ids = append(ids, *r.Face.FaceId)
		}
	}
	return ids, nil
}

// SearchFaces finds faces in the collection similar to an indexed face.
func (c *Client) SearchFaces(ctx context.Context, collectionID, faceID string, threshold float64, maxFaces int) ([]FaceMatch, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	out, err := c.api.SearchFaces(ctx, &rekognition.SearchFacesInput{
		CollectionId:       aws.String(collectionID),
		FaceId:             aws.String(faceID),
		FaceMatchThreshold: aws.Float32(float32(threshold)),
		MaxFaces:           aws.Int32(int32(maxFaces)),
	})
	if err != nil {
		return nil, fmt.Errorf("search faces %s: %w", faceID, mapError(err))
	}
	return toMatches(out.FaceMatches), nil
}

// SearchFacesByImage searches the collection with the largest face in image.
// Matches are ordered by descending similarity.
func (c *Client) SearchFacesByImage(ctx context.Context, collectionID string, image []byte, threshold float64, maxFaces int) ([]FaceMatch, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	out, err := c.api.SearchFacesByImage(ctx, &rekognition.SearchFacesByImageInput{
		CollectionId:       aws.String(collectionID),
		Image:              &types.Image{Bytes: image},
		FaceMatchThreshold: aws.Float32(float32(threshold)),
		MaxFaces:           aws.Int32(int32(maxFaces)),
	})
	if err != nil {
		return nil, fmt.Errorf("search faces by image: %w", mapImageError(err, ErrNoFaceInImage))
	}
	return toMatches(out.FaceMatches), nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func toImage(img models.Image) *types.Image {
	if img.Inline() {
		return &types.Image{Bytes: img.Bytes}
	}
	return &types.Image{S3Object: &types.S3Object{
		Bucket: aws.String(img.Bucket),
		Name:   aws.String(img.Key),
	}}
}

func toMatches(in []types.FaceMatch) []FaceMatch {
	matches := make([]FaceMatch, 0, len(in))
	for _, m := range in {
		if m.Face == nil || m.Face.FaceId == nil {
			continue
		}
		matches = append(matches, FaceMatch{
			FaceID:          aws.ToString(m.Face.FaceId),
			ExternalImageID: aws.ToString(m.Face.ExternalImageId),
			Similarity:      float64(aws.ToFloat32(m.Similarity)),
		})
	}
	return matches
}

// mapError translates provider error codes into package sentinels. Other
// errors, including throttling and 5xx, are returned unchanged so the
// message is redelivered.
func mapError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case "ResourceNotFoundException":
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, apiErr.ErrorMessage())
	case "ResourceAlreadyExistsException":
		return fmt.Errorf("%w: %s", ErrCollectionExists, apiErr.ErrorMessage())
	case "InvalidImageFormatException", "ImageTooLargeException", "InvalidS3ObjectException":
		return fmt.Errorf("%w: %s", ErrInvalidImage, apiErr.ErrorMessage())
	}
	return err
}

// mapImageError is mapError for calls that take an image. A rejected
// parameter there is a property of the image and maps to invalidParam:
// ErrInvalidImage for indexed photos, ErrNoFaceInImage for a selfie query.
func mapImageError(err error, invalidParam error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidParameterException" {
		return fmt.Errorf("%w: %s", invalidParam, apiErr.ErrorMessage())
	}
	return mapError(err)
}

var (
	collectionIDInvalid = regexp.MustCompile(`[^a-zA-Z0-9_.\-]`)
	externalIDInvalid   = regexp.MustCompile(`[^a-zA-Z0-9_.\-:]`)
)

// CollectionID derives the per-event collection id: tenant-event, optionally
// prefixed.
func CollectionID(prefix, tenantID, eventID string) string {
	id := tenantID + "-" + eventID
	if prefix != "" {
		id = prefix + "-" + id
	}
	return collectionIDInvalid.ReplaceAllString(id, "_")
}

// SanitizeExternalID maps an image key onto the external id alphabet.
// Path separators become ':' so keys stay readable.
func SanitizeExternalID(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		if r == '/' {
			r = ':'
		}
		out = append(out, r)
	}
	id := externalIDInvalid.ReplaceAllString(string(out), "_")
	if len(id) > 255 {
		id = id[len(id)-255:]
	}
	return id
}
