package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeImageRoundTrip(t *testing.T) {
	data := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x02}

	img := EncodeImage(data, "image/jpeg; charset=binary")
	assert.Equal(t, "image/jpeg", img.MediaType)

	decoded, err := img.Decode()
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestEncodeImageSniffsMissingType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	assert.Equal(t, "image/png", EncodeImage(png, "").MediaType)
	assert.Equal(t, "image/png", EncodeImage(png, "application/octet-stream").MediaType)
}

func TestMediaFetcher(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/ok.gif":
			w.Header().Set("Content-Type", "image/gif")
			_, _ = w.Write([]byte("GIF89a...."))
		case "/big.gif":
			_, _ = w.Write(make([]byte, 64))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewMediaFetcher(testClient(t), 32)

	img, rerr := f.Fetch(context.Background(), srv.URL+"/ok.gif")
	require.Nil(t, rerr)
	assert.Equal(t, "image/gif", img.MediaType)

	_, rerr = f.Fetch(context.Background(), srv.URL+"/big.gif")
	require.NotNil(t, rerr)
	assert.Equal(t, errors.TerminalError, rerr.Type)

	_, rerr = f.Fetch(context.Background(), srv.URL+"/missing.gif")
	require.NotNil(t, rerr)
	assert.Equal(t, errors.TerminalError, rerr.Type)

	assert.Equal(t, int32(3), hits.Load())

	// An unreachable image host is the request's fault, not the provider's.
	_, rerr = f.Fetch(context.Background(), "http://127.0.0.1:1/cat.png")
	require.NotNil(t, rerr)
	assert.Equal(t, errors.NetworkError, rerr.Type)
	assert.False(t, rerr.Upstream)
}

func TestMediaFetcherSharedDownloadOutlivesCaller(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Header().Set("Content-Type", "image/gif")
		_, _ = w.Write([]byte("GIF89a...."))
	}))
	defer srv.Close()

	f := NewMediaFetcher(testClient(t), 0)
	url := srv.URL + "/slow.gif"

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan *errors.RelayError, 1)
	go func() {
		_, rerr := f.Fetch(first, url)
		firstDone <- rerr
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)

	secondDone := make(chan *errors.RelayError, 1)
	go func() {
		_, rerr := f.Fetch(context.Background(), url)
		secondDone <- rerr
	}()

	cancel()
	rerr := <-firstDone
	require.NotNil(t, rerr)
	assert.Equal(t, errors.NetworkError, rerr.Type)

	close(release)
	assert.Nil(t, <-secondDone)
	assert.Equal(t, int32(1), hits.Load())
}
