package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ytdl "github.com/kkdai/youtube/v2"
)

// ErrNoAudio は音声フォーマットが見つからない場合のエラー
var ErrNoAudio = errors.New("no audio formats available")

// AudioFormat は音声フォーマット情報
type AudioFormat struct {
	ItagNo        int
	MimeType      string // "audio/mp4", "audio/webm"
	Bitrate       int    // ビットレート (bps)
	ContentLength int64  // ファイルサイズ (bytes)
	Quality       string // 音質ラベル
	Language      string // 言語コード (例: "ja", "en")
	LanguageName  string // 言語表示名 (例: "日本語", "English")
	IsDefault     bool   // デフォルト音声トラックかどうか
}

// Extension はMIMEタイプから拡張子を返す
func (f *AudioFormat) Extension() string {
	if strings.Contains(f.MimeType, "mp4") {
		return ".m4a"
	}
	if strings.Contains(f.MimeType, "webm") {
		return ".webm"
	}
	return ".audio"
}

// DownloadAudioOptions はダウンロードオプション
type DownloadAudioOptions struct {
	Format    string // "mp4", "webm", "best" (default: "mp4")
	Language  string // 言語コード (例: "ja", "en")、空の場合はデフォルト
	OutputDir string // 出力先ディレクトリ
}

// Download はダウンロード済み音声の情報
type Download struct {
	Path   string
	Video  *VideoInfo
	Format AudioFormat
}

// audioFormats は音声のみのフォーマットを返す
func audioFormats(formats ytdl.FormatList) []AudioFormat {
	var out []AudioFormat
	for _, f := range formats {
		// 音声のみのフォーマットをフィルタ
		if !strings.HasPrefix(f.MimeType, "audio/") {
			continue
		}

		af := AudioFormat{
			ItagNo:        f.ItagNo,
			MimeType:      f.MimeType,
			Bitrate:       f.Bitrate,
			ContentLength: f.ContentLength,
			Quality:       f.AudioQuality,
		}

		// 音声トラック情報があれば追加
		if f.AudioTrack != nil {
			af.LanguageName = f.AudioTrack.DisplayName
			af.Language = f.AudioTrack.ID
			af.IsDefault = f.AudioTrack.AudioIsDefault
		}

		out = append(out, af)
	}
	return out
}

// chooseAudioFormat は指定された形式と言語に基づいて最適なフォーマットを選択
func chooseAudioFormat(formats []AudioFormat, formatType, language string) (*AudioFormat, error) {
	if len(formats) == 0 {
		return nil, ErrNoAudio
	}

	// ビットレート降順でソート
	formats = append([]AudioFormat(nil), formats...)
	sort.SliceStable(formats, func(i, j int) bool {
		return formats[i].Bitrate > formats[j].Bitrate
	})

	// 言語でフィルタ（指定されている場合）
	if language != "" {
		lang := strings.ToLower(language)
		var langFiltered []AudioFormat
		for _, f := range formats {
			// 言語IDの先頭が一致するか確認（例: "ja" -> "ja.4" にマッチ）
			langMatch := f.Language != "" && strings.HasPrefix(strings.ToLower(f.Language), lang)
			// または言語名に含まれるか（例: "japanese" -> "Japanese original" にマッチ）
			nameMatch := strings.Contains(strings.ToLower(f.LanguageName), lang)
			if langMatch || nameMatch {
				langFiltered = append(langFiltered, f)
			}
		}
		if len(langFiltered) > 0 {
			formats = langFiltered
		}
		// 見つからない場合はフィルタなしで続行
	} else {
		// 言語指定がなければデフォルトトラックを優先
		var defaults []AudioFormat
		for _, f := range formats {
			if f.IsDefault {
				defaults = append(defaults, f)
			}
		}
		if len(defaults) > 0 {
			formats = defaults
		}
	}

	// フォーマットタイプでフィルタ
	var filtered []AudioFormat
	switch formatType {
	case "mp4", "webm":
		for _, f := range formats {
			if strings.Contains(f.MimeType, formatType) {
				filtered = append(filtered, f)
			}
		}
	default: // "best"
		filtered = formats
	}

	if len(filtered) == 0 {
		return nil, fmt.Errorf("%w for type: %s", ErrNoAudio, formatType)
	}

	// 最高ビットレートを返す（既にソート済み）
	return &filtered[0], nil
}

// DownloadAudio は音声をダウンロードしてOutputDirに保存する
func (c *Client) DownloadAudio(ctx context.Context, videoURL string, opts DownloadAudioOptions, progress func(current, total int64)) (*Download, error) {
	if opts.Format == "" {
		// m4a は文字起こしAPIがそのまま受け付ける
		opts.Format = "mp4"
	}

	// 動画情報を取得
	video, err := c.client.GetVideoContext(ctx, videoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	// 最適なフォーマットを選択
	selected, err := chooseAudioFormat(audioFormats(video.Formats), opts.Format, opts.Language)
	if err != nil && opts.Format != "best" {
		selected, err = chooseAudioFormat(audioFormats(video.Formats), "best", opts.Language)
	}
	if err != nil {
		return nil, err
	}

	// 対応するyoutubeライブラリのFormatを見つける（ItagNo + 言語で一致）
	var targetFormat *ytdl.Format
	for i := range video.Formats {
		f := &video.Formats[i]
		if f.ItagNo != selected.ItagNo {
			continue
		}
		// 言語トラックも一致させる
		if selected.Language != "" {
			if f.AudioTrack == nil || f.AudioTrack.ID != selected.Language {
				continue
			}
		}
		targetFormat = f
		break
	}
	if targetFormat == nil {
		return nil, fmt.Errorf("format not found: itag=%d lang=%s", selected.ItagNo, selected.Language)
	}

	// ストリームを取得
	stream, size, err := c.client.GetStreamContext(ctx, video, targetFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	defer stream.Close()

	// 出力先を決定
	name := sanitizeFilename(video.Title)
	if name == "" {
		name = video.ID
	}
	outputPath := filepath.Join(opts.OutputDir, name+selected.Extension())

	// ファイルを作成
	file, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	err = copyWithProgress(ctx, file, stream, size, progress)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outputPath) // 失敗時はファイルを削除
		return nil, fmt.Errorf("failed to download: %w", err)
	}

	return &Download{
		Path:   outputPath,
		Video:  videoInfo(video),
		Format: *selected,
	}, nil
}

// copyWithProgress はプログレスコールバック付きでコピー
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress func(current, total int64)) error {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
				if progress != nil {
					progress(written, total)
				}
			}
			if ew != nil {
				return ew
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}

	return nil
}

// sanitizeFilename はファイル名として使えない文字を置換
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return strings.TrimSpace(replacer.Replace(name))
}
