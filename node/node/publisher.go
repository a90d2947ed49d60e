package node

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/derktes/spectral-capture-node/wire"
	"github.com/pkg/errors"
)

// publishClient mirrors captures to a development host over HTTP. It runs
// beside the serial link and never holds up a capture task.
type publishClient struct {
	metaURL  string
	imageURL string
	client   *http.Client
	logger   *log.Logger
	metrics  *metrics
	wg       sync.WaitGroup
}

func newPublishClient(uploadURL string, logger *log.Logger, m *metrics) (*publishClient, error) {
	base, err := url.Parse(strings.TrimSuffix(uploadURL, "/"))
	if err != nil {
		return nil, err
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upload url %q needs a scheme and host", uploadURL)
	}
	return &publishClient{
		metaURL:  base.String() + "/pi_meta",
		imageURL: base.String() + "/upload_image",
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		metrics:  m,
	}, nil
}

// publishCapture uploads the record and the image in the background.
func (pc *publishClient) publishCapture(rec wire.CaptureRecord, imagePath string) {
	pc.wg.Add(1)
	go func() {
		defer pc.wg.Done()
		if err := pc.postMetadata(rec); err != nil {
			pc.failed("metadata", rec.Filename, err)
		}
		if err := pc.postImage(imagePath); err != nil {
			pc.failed("image", rec.Filename, err)
		}
	}()
}

func (pc *publishClient) failed(what, fname string, err error) {
	pc.logger.Warn("dev upload failed", "what", what, "fname", fname, "err", err)
	if pc.metrics != nil {
		pc.metrics.uploadFails.Inc()
	}
}

func (pc *publishClient) postMetadata(rec wire.CaptureRecord) error {
	body, err := wire.EncodeControl(rec)
	if err != nil {
		return err
	}
	return pc.post(pc.metaURL, "application/json", nil, body)
}

func (pc *publishClient) postImage(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	header := http.Header{"X-Filename": []string{filepath.Base(path)}}
	return pc.post(pc.imageURL, "image/jpeg", header, data)
}

func (pc *publishClient) post(target, contentType string, header http.Header, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", contentType)
	response, err := pc.client.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode/100 != 2 {
		return errors.Errorf("%s returned %s", target, response.Status)
	}
	pc.logger.Debug("published", "url", target, "status", response.StatusCode)
	return nil
}

// wait blocks until every pending upload has finished.
func (pc *publishClient) wait() {
	pc.wg.Wait()
}
