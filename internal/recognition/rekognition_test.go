package recognition

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
)

func TestCollectionID(t *testing.T) {
	tests := []struct {
		prefix, tenant, event, want string
	}{
		{"", "org1", "race5k", "org1-race5k"},
		{"prod", "org1", "race5k", "prod-org1-race5k"},
		{"", "org 1", "race/5k", "org_1-race_5k"},
	}
	for _, tt := range tests {
		if got := CollectionID(tt.prefix, tt.tenant, tt.event); got != tt.want {
			t.Errorf("CollectionID(%q, %q, %q) = %q, want %q", tt.prefix, tt.tenant, tt.event, got, tt.want)
		}
	}
}

func TestSanitizeExternalID(t *testing.T) {
	if got := SanitizeExternalID("org1/race5k/raw/IMG 001 (1).jpg"); got != "org1:race5k:raw:IMG_001__1_.jpg" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("a", 300) + ".jpg"
	if got := SanitizeExternalID(long); len(got) != 255 || !strings.HasSuffix(got, ".jpg") {
		t.Errorf("long id not trimmed from the left: len=%d", len(got))
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"ResourceNotFoundException", ErrCollectionNotFound},
		{"ResourceAlreadyExistsException", ErrCollectionExists},
		{"InvalidImageFormatException", ErrInvalidImage},
		{"ImageTooLargeException", ErrInvalidImage},
	}
	for _, tt := range tests {
		err := fmt.Errorf("op: %w", &smithy.GenericAPIError{Code: tt.code, Message: "boom"})
		if got := mapError(err); !errors.Is(got, tt.want) {
			t.Errorf("%s mapped to %v, want %v", tt.code, got, tt.want)
		}
	}

	throttled := &smithy.GenericAPIError{Code: "ThrottlingException"}
	if got := mapError(throttled); got != throttled {
		t.Errorf("throttling should pass through unchanged, got %v", got)
	}
}

func TestInvalidParameterDependsOnCall(t *testing.T) {
	invalid := &smithy.GenericAPIError{Code: "InvalidParameterException", Message: "bad"}

	if got := mapError(invalid); got != invalid {
		t.Errorf("face id search: got %v, want the provider error unchanged", got)
	}
	if got := mapImageError(invalid, ErrNoFaceInImage); !errors.Is(got, ErrNoFaceInImage) {
		t.Errorf("selfie query: got %v, want ErrNoFaceInImage", got)
	}
	got := mapImageError(invalid, ErrInvalidImage)
	if !errors.Is(got, ErrInvalidImage) || errors.Is(got, ErrNoFaceInImage) {
		t.Errorf("indexed photo: got %v, want ErrInvalidImage only", got)
	}
	if got := mapImageError(&smithy.GenericAPIError{Code: "ResourceNotFoundException"}, ErrInvalidImage); !errors.Is(got, ErrCollectionNotFound) {
		t.Errorf("other codes should still map: got %v", got)
	}
}
