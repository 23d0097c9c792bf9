package obsws

import (
	"context"
	"strconv"
)

// Version is the GetVersion response.
type Version struct {
	OBSVersion          string   `json:"obsVersion"`
	OBSWebSocketVersion string   `json:"obsWebSocketVersion"`
	RPCVersion          int      `json:"rpcVersion"`
	Platform            string   `json:"platform"`
	AvailableRequests   []string `json:"availableRequests"`
}

// Stats is the GetStats response.
type Stats struct {
	CPUUsage               float64 `json:"cpuUsage"`
	MemoryUsage            float64 `json:"memoryUsage"`
	AvailableDiskSpace     float64 `json:"availableDiskSpace"`
	ActiveFPS              float64 `json:"activeFps"`
	AverageFrameRenderTime float64 `json:"averageFrameRenderTime"`
	RenderSkippedFrames    int     `json:"renderSkippedFrames"`
	OutputSkippedFrames    int     `json:"outputSkippedFrames"`
}

// GetVersion returns OBS and obs-websocket versions.
func (c *Client) GetVersion(ctx context.Context) (Version, error) {
	var v Version
	err := c.Call(ctx, "GetVersion", nil, &v)
	return v, err
}

// GetStats returns render and resource statistics.
func (c *Client) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.Call(ctx, "GetStats", nil, &s)
	return s, err
}

// SetProfileParameter sets a value in the current profile's config.
func (c *Client) SetProfileParameter(ctx context.Context, category, name, value string) error {
	return c.Call(ctx, "SetProfileParameter", map[string]string{
		"parameterCategory": category,
		"parameterName":     name,
		"parameterValue":    value,
	}, nil)
}

// SetReplayBufferDuration sets the advanced-output replay buffer length.
func (c *Client) SetReplayBufferDuration(ctx context.Context, seconds int) error {
	return c.SetProfileParameter(ctx, "AdvOut", "RecRBTime", strconv.Itoa(seconds))
}

// StartReplayBuffer starts the replay buffer output.
func (c *Client) StartReplayBuffer(ctx context.Context) error {
	return c.Call(ctx, "StartReplayBuffer", nil, nil)
}

// StopReplayBuffer stops the replay buffer output.
func (c *Client) StopReplayBuffer(ctx context.Context) error {
	return c.Call(ctx, "StopReplayBuffer", nil, nil)
}

// SaveReplayBuffer flushes the replay buffer to a file on disk.
func (c *Client) SaveReplayBuffer(ctx context.Context) error {
	return c.Call(ctx, "SaveReplayBuffer", nil, nil)
}

// ReplayBufferActive reports whether the replay buffer output is running.
func (c *Client) ReplayBufferActive(ctx context.Context) (bool, error) {
	var out struct {
		OutputActive bool `json:"outputActive"`
	}
	err := c.Call(ctx, "GetReplayBufferStatus", nil, &out)
	return out.OutputActive, err
}

// GetRecordDirectory returns the directory OBS writes recordings and replays to.
func (c *Client) GetRecordDirectory(ctx context.Context) (string, error) {
	var out struct {
		RecordDirectory string `json:"recordDirectory"`
	}
	err := c.Call(ctx, "GetRecordDirectory", nil, &out)
	return out.RecordDirectory, err
}

// Quit asks OBS to exit.
func (c *Client) Quit(ctx context.Context) error {
	return c.Call(ctx, "Quit", nil, nil)
}
