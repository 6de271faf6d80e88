package youtube

import (
	"time"

	"github.com/kkdai/youtube/v2"
)

// Client はYouTube API操作を抽象化するクライアント
type Client struct {
	client youtube.Client
}

// NewClient は新しいYouTubeクライアントを作成
func NewClient() *Client {
	return &Client{
		client: youtube.Client{},
	}
}

// VideoInfo は動画のメタ情報
type VideoInfo struct {
	ID       string
	Title    string
	Author   string
	Duration time.Duration
}

// videoInfo はライブラリの動画情報から必要な項目を取り出す
func videoInfo(v *youtube.Video) *VideoInfo {
	return &VideoInfo{
		ID:       v.ID,
		Title:    v.Title,
		Author:   v.Author,
		Duration: v.Duration,
	}
}
