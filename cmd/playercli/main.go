// Package main provides the player CLI entry point for testing.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	"github.com/osa030/19play/internal/api/httpapi"
	"github.com/osa030/19play/internal/app/catalog"
	"github.com/osa030/19play/internal/app/entitlement"
	"github.com/osa030/19play/internal/app/playback"
	"github.com/osa030/19play/internal/domain/track"
)

var (
	app    = kingpin.New("19play-cli", "19play player client for testing")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "API token").Envar("PLAYER_API_TOKEN").String()

	statusCmd = app.Command("status", "Show the player state")

	// play command
	playCmd    = app.Command("play", "Play a track")
	playLink   = playCmd.Arg("link", "Spotify track URL or URI").Required().String()
	playTitle  = playCmd.Flag("title", "Track title").Default("Unknown").String()
	playArtist = playCmd.Flag("artist", "Artist name").Default("Unknown").String()

	pauseCmd  = app.Command("pause", "Pause playback")
	resumeCmd = app.Command("resume", "Resume playback")
	nextCmd   = app.Command("next", "Play the next track")
	stopCmd   = app.Command("stop", "Stop playback")

	// like command
	likeCmd  = app.Command("like", "Toggle the liked state of a track")
	likeLink = likeCmd.Arg("link", "Spotify track URL or URI").Required().String()

	likedCmd  = app.Command("liked", "List liked tracks")
	recentCmd = app.Command("recent", "List recently played tracks")

	// search command
	searchCmd   = app.Command("search", "Search the catalog")
	searchQuery = searchCmd.Arg("query", "Search terms").Required().Strings()

	historyCmd = app.Command("history", "Show the search history")

	// token commands
	tokenCmd      = app.Command("token", "Set the elevated token")
	tokenValue    = tokenCmd.Arg("value", "Download provider API key").Required().String()
	tokenClearCmd = app.Command("token-clear", "Clear the elevated token")

	entitlementCmd = app.Command("entitlement", "Show quota usage")
	downloadCmd    = app.Command("download", "Get a download link for the current track")

	// subscribe command
	subscribeCmd = app.Command("subscribe", "Subscribe to player events")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	c := &client{base: strings.TrimRight(*server, "/"), token: *token, http: &http.Client{Timeout: 30 * time.Second}}
	ctx := context.Background()

	var err error
	switch command {
	case statusCmd.FullCommand():
		err = showState(ctx, c, http.MethodGet, "/api/state", nil)
	case playCmd.FullCommand():
		t := track.New(*playTitle, *playArtist, "", *playLink)
		err = showState(ctx, c, http.MethodPost, "/api/play", httpapi.PlayRequest{Track: t})
	case pauseCmd.FullCommand():
		err = setPlaying(ctx, c, false)
	case resumeCmd.FullCommand():
		err = setPlaying(ctx, c, true)
	case nextCmd.FullCommand():
		err = showState(ctx, c, http.MethodPost, "/api/next", nil)
	case stopCmd.FullCommand():
		err = showState(ctx, c, http.MethodPost, "/api/stop", nil)
	case likeCmd.FullCommand():
		err = like(ctx, c, *likeLink)
	case likedCmd.FullCommand():
		err = listTracks(ctx, c, "/api/liked")
	case recentCmd.FullCommand():
		err = listTracks(ctx, c, "/api/recent")
	case searchCmd.FullCommand():
		err = search(ctx, c, strings.Join(*searchQuery, " "))
	case historyCmd.FullCommand():
		err = history(ctx, c)
	case tokenCmd.FullCommand():
		err = showEntitlement(ctx, c, http.MethodPut, "/api/entitlement/token", httpapi.TokenRequest{Token: *tokenValue})
	case tokenClearCmd.FullCommand():
		err = showEntitlement(ctx, c, http.MethodDelete, "/api/entitlement/token", nil)
	case entitlementCmd.FullCommand():
		err = showEntitlement(ctx, c, http.MethodGet, "/api/entitlement", nil)
	case downloadCmd.FullCommand():
		err = download(ctx, c)
	case subscribeCmd.FullCommand():
		err = subscribe(c)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

type client struct {
	base  string
	token string
	http  *http.Client
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(httpapi.TokenHeader, c.token)
	}
	return req, nil
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e apiError
		if json.Unmarshal(data, &e) == nil && e.Error.Code != "" {
			return fmt.Errorf("[%s] %s", e.Error.Code, e.Error.Message)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func showState(ctx context.Context, c *client, method, path string, body any) error {
	var snap playback.Snapshot
	if err := c.do(ctx, method, path, body, &snap); err != nil {
		return err
	}
	fmt.Printf("State: %s\n", formatState(snap.State))
	if snap.Track != nil {
		fmt.Printf("Track: %s\n", formatTrack(*snap.Track))
		fmt.Printf("Progress: %.0f%%\n", snap.Progress*100)
	}
	if snap.LastError != playback.KindNone {
		fmt.Printf("Last error: %s\n", snap.LastError)
	}
	return nil
}

func setPlaying(ctx context.Context, c *client, playing bool) error {
	return showState(ctx, c, http.MethodPost, "/api/playing", map[string]bool{"playing": playing})
}

func like(ctx context.Context, c *client, link string) error {
	var resp struct {
		ID    string `json:"id"`
		Liked bool   `json:"liked"`
	}
	t := track.New("Unknown", "Unknown", "", link)
	if err := c.do(ctx, http.MethodPost, "/api/like", httpapi.LikeRequest{Track: t}, &resp); err != nil {
		return err
	}
	if resp.Liked {
		fmt.Printf("♥ Liked %s\n", resp.ID)
	} else {
		fmt.Printf("♡ Unliked %s\n", resp.ID)
	}
	return nil
}

func listTracks(ctx context.Context, c *client, path string) error {
	var resp struct {
		Tracks []track.Track `json:"tracks"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	if len(resp.Tracks) == 0 {
		fmt.Println("(none)")
		return nil
	}
	for i, t := range resp.Tracks {
		fmt.Printf("%3d. %s\n", i+1, formatTrack(t))
	}
	return nil
}

func search(ctx context.Context, c *client, query string) error {
	var res catalog.Results
	if err := c.do(ctx, http.MethodGet, "/api/search?q="+url.QueryEscape(query), nil, &res); err != nil {
		return err
	}
	if len(res.Tracks) == 0 {
		fmt.Println("No results")
		return nil
	}
	fmt.Printf("Results from %s:\n", res.Source)
	for i, t := range res.Tracks {
		fmt.Printf("%3d. %s\n     %s\n", i+1, formatTrack(t), t.Link)
	}
	return nil
}

func history(ctx context.Context, c *client) error {
	var resp struct {
		Terms []string `json:"terms"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/search/history", nil, &resp); err != nil {
		return err
	}
	for _, term := range resp.Terms {
		fmt.Println(term)
	}
	return nil
}

func showEntitlement(ctx context.Context, c *client, method, path string, body any) error {
	var st entitlement.State
	if err := c.do(ctx, method, path, body, &st); err != nil {
		return err
	}
	if st.Elevated {
		fmt.Println("Tier: ⭐ Elevated (unmetered)")
		return nil
	}
	fmt.Println("Tier: Free")
	fmt.Printf("Plays: %d/%d\n", st.PlayCount, st.PlayLimit)
	fmt.Printf("Downloads: %d/%d\n", st.DownloadCount, st.DownloadLimit)
	return nil
}

func download(ctx context.Context, c *client) error {
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/download", nil, &resp); err != nil {
		return err
	}
	fmt.Println(resp.URL)
	return nil
}

func subscribe(c *client) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req, err := c.newRequest(ctx, http.MethodGet, "/api/events", nil)
	if err != nil {
		return err
	}
	// No timeout for the event stream
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	fmt.Println("Subscribed to player events. Press Ctrl+C to exit.")

	var event string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if event != "ping" {
				fmt.Printf("[%s] %-22s %s\n", time.Now().Format(time.TimeOnly), event, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			}
		}
	}
	if ctx.Err() != nil {
		fmt.Println("\nUnsubscribing...")
		return nil
	}
	return scanner.Err()
}

func formatState(state playback.State) string {
	switch state {
	case playback.StateIdle:
		return "⏹  Idle"
	case playback.StateLoading:
		return "⏳ Loading"
	case playback.StateReady:
		return "⏺  Ready"
	case playback.StatePlaying:
		return "▶️  Playing"
	case playback.StatePaused:
		return "⏸  Paused"
	case playback.StateFailed:
		return "⚠️  Failed"
	default:
		return "❓ Unknown"
	}
}

func formatTrack(t track.Track) string {
	return fmt.Sprintf("%s / %s", t.Title, t.Artist)
}
