// Package source provides clients for the audio source providers: the free
// playback provider and the token-gated download provider.
package source

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
)

// Errors
var (
	ErrNoURL         = errors.New("provider returned no usable url")
	ErrTokenRejected = errors.New("provider rejected the token")
	ErrBadStatus     = errors.New("provider returned an error status")
)

// maxBodySize bounds provider responses.
const maxBodySize = 1 << 20

// Config represents provider client configuration.
type Config struct {
	PlaybackEndpoint string        // GET <endpoint>?url=<link>
	DownloadEndpoint string        // GET <endpoint>?link=<link>&apikey=<token>
	ProbeLink        string        // Known-good link used to validate tokens
	Timeout          time.Duration // Per-request timeout
}

// Client talks to the playback and download providers.
type Client struct {
	playbackURL string
	downloadURL string
	probeLink   string
	httpClient  *http.Client
}

// New creates a new provider client.
func New(cfg Config) (*Client, error) {
	if cfg.PlaybackEndpoint == "" {
		return nil, errors.New("playback endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &Client{
		playbackURL: cfg.PlaybackEndpoint,
		downloadURL: cfg.DownloadEndpoint,
		probeLink:   cfg.ProbeLink,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// playbackResponse lists the accepted response shapes of the playback provider.
type playbackResponse struct {
	Stream   string `mapstructure:"stream"`
	URL      string `mapstructure:"url"`
	Download string `mapstructure:"download"`
	Data     struct {
		Stream   string `mapstructure:"stream"`
		URL      string `mapstructure:"url"`
		Download string `mapstructure:"download"`
	} `mapstructure:"data"`
	Result struct {
		Stream string `mapstructure:"stream"`
		URL    string `mapstructure:"url"`
	} `mapstructure:"result"`
}

func (r playbackResponse) playableURL() string {
	for _, candidate := range []string{
		r.Stream, r.URL, r.Download,
		r.Data.Stream, r.Data.URL, r.Data.Download,
		r.Result.Stream, r.Result.URL,
	} {
		if isHTTPURL(candidate) {
			return strings.TrimSpace(candidate)
		}
	}
	return ""
}

// downloadResponse lists the accepted response shapes of the download provider.
type downloadResponse struct {
	Status   *int   `mapstructure:"status"`
	Success  *bool  `mapstructure:"success"`
	Download string `mapstructure:"download"`
	Message  string `mapstructure:"message"`
	Data     struct {
		DLink    string `mapstructure:"dlink"`
		Download string `mapstructure:"download"`
		URL      string `mapstructure:"url"`
	} `mapstructure:"data"`
}

func (r downloadResponse) rejected() bool {
	return r.Status != nil && (*r.Status == http.StatusUnauthorized || *r.Status == http.StatusForbidden)
}

func (r downloadResponse) failed() bool {
	if r.Success != nil && !*r.Success {
		return true
	}
	return r.Status != nil && (*r.Status < 200 || *r.Status >= 300)
}

func (r downloadResponse) link() string {
	for _, candidate := range []string{r.Data.DLink, r.Download, r.Data.Download, r.Data.URL} {
		if isHTTPURL(candidate) {
			return strings.TrimSpace(candidate)
		}
	}
	return ""
}

// Lookup asks the playback provider for a playable URL for link.
func (c *Client) Lookup(ctx context.Context, link string) (string, error) {
	params := url.Values{}
	params.Set("url", link)

	status, body, err := c.get(ctx, c.playbackURL, params)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", errors.Mark(errors.Newf("playback provider status %d", status), ErrBadStatus)
	}

	var resp playbackResponse
	decodeLoose(body, &resp)

	u := resp.playableURL()
	if u == "" {
		return "", ErrNoURL
	}
	return u, nil
}

// DownloadLink asks the download provider for a download link using token.
func (c *Client) DownloadLink(ctx context.Context, link, token string) (string, error) {
	resp, err := c.download(ctx, link, token)
	if err != nil {
		return "", err
	}

	u := resp.link()
	if u == "" {
		return "", ErrNoURL
	}
	return u, nil
}

// Probe validates token with a single download request for the probe link.
func (c *Client) Probe(ctx context.Context, token string) error {
	if c.probeLink == "" {
		return errors.New("probe link is not configured")
	}
	_, err := c.download(ctx, c.probeLink, token)
	return err
}

func (c *Client) download(ctx context.Context, link, token string) (downloadResponse, error) {
	if c.downloadURL == "" {
		return downloadResponse{}, errors.New("download endpoint is not configured")
	}

	params := url.Values{}
	params.Set("link", link)
	params.Set("apikey", token)

	status, body, err := c.get(ctx, c.downloadURL, params)
	if err != nil {
		return downloadResponse{}, err
	}

	var resp downloadResponse
	decodeLoose(body, &resp)

	if status == http.StatusUnauthorized || status == http.StatusForbidden || resp.rejected() {
		return downloadResponse{}, ErrTokenRejected
	}
	if status < 200 || status >= 300 || resp.failed() {
		return downloadResponse{}, errors.Mark(errors.Newf("download provider status %d: %s", status, resp.Message), ErrBadStatus)
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (int, []byte, error) {
	reqURL := endpoint
	if strings.Contains(endpoint, "?") {
		reqURL += "&" + params.Encode()
	} else {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to read response body")
	}
	return resp.StatusCode, body, nil
}

// decodeLoose decodes whatever fields of body match out. Malformed JSON or
// mistyped fields leave the corresponding fields empty.
func decodeLoose(body []byte, out any) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		zlog.Debug().Msgf("source: response is not a json object: error=%v", err)
		return
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return
	}
	if err := decoder.Decode(raw); err != nil {
		zlog.Debug().Msgf("source: partially decoded response: error=%v", err)
	}
}

func isHTTPURL(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
