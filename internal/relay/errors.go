package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/zsiec/sounds-relay/internal/bridge"
	"github.com/zsiec/sounds-relay/internal/hls"
	"github.com/zsiec/sounds-relay/internal/mpegts"
	"github.com/zsiec/sounds-relay/internal/sounds"
	"github.com/zsiec/sounds-relay/internal/upload"
)

// failure is how an error is reported to the client and counted.
type failure struct {
	code int
	msg  string
	kind string
}

// classify maps a relay error to an HTTP response. Upstream statuses and
// messages follow the public behaviour of the service: a 400 from upstream
// means a bad identifier and is reported as not found.
func classify(err error) failure {
	var (
		soundsStatus *sounds.StatusError
		hlsStatus    *hls.StatusError
		unsupported  *sounds.UnsupportedMediaError
		parseErr     *mpegts.ParseError
		storeErr     *upload.StoreError
		panicErr     *bridge.PanicError
	)

	switch {
	case errors.Is(err, sounds.ErrNotFound):
		return failure{http.StatusNotFound, "Not found", "not_found"}

	case errors.As(err, &soundsStatus):
		return upstreamStatus(soundsStatus.Code)

	case errors.As(err, &hlsStatus):
		return upstreamStatus(hlsStatus.StatusCode)

	case errors.Is(err, sounds.ErrFormat):
		return failure{http.StatusServiceUnavailable, "Unexpected data from BBC", "upstream_format"}

	case errors.As(err, &unsupported),
		errors.Is(err, mpegts.ErrUnsupportedCodec),
		errors.Is(err, mpegts.ErrNoAudio),
		errors.Is(err, hls.ErrEncrypted),
		errors.Is(err, hls.ErrFragmentedMP4):
		return failure{http.StatusNotImplemented, "Media format not supported", "unsupported_media"}

	case errors.As(err, &parseErr),
		errors.Is(err, hls.ErrNoSegments),
		errors.Is(err, hls.ErrNoVariants),
		errors.Is(err, upload.ErrEmptySource):
		return failure{http.StatusBadGateway, "Malformed media from BBC", "bad_media"}

	case errors.As(err, &storeErr):
		return failure{http.StatusBadGateway, "Object store error", "store"}

	case errors.Is(err, context.DeadlineExceeded):
		return failure{http.StatusGatewayTimeout, "Upstream timed out", "timeout"}

	case errors.Is(err, context.Canceled):
		return failure{http.StatusServiceUnavailable, "Request canceled", "canceled"}

	case errors.As(err, &panicErr):
		return failure{http.StatusInternalServerError, "Internal server error", "panic"}
	}
	return failure{http.StatusInternalServerError, "Internal server error", "internal"}
}

func upstreamStatus(code int) failure {
	if code == http.StatusBadRequest || code == http.StatusNotFound {
		return failure{http.StatusNotFound, "Not found", "not_found"}
	}
	return failure{http.StatusServiceUnavailable, fmt.Sprintf("Error response from BBC (%d)", code), "upstream_status"}
}
