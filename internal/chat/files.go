package chat

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/deepwiki/sentra-console/pkg/errors"
	"github.com/deepwiki/sentra-console/pkg/logger"
)

// FileResolver 把文件引用解析成可上行的内容。
// 二进制 (图片) 以 data-URL 返回, 文本原样返回。
type FileResolver interface {
	Resolve(path string) (content string, isBinary bool, err error)
}

// 图片扩展名 → MIME。其余扩展一律按文本处理。
var imageMIME = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// FSResolver 基于本地文件系统的解析器, 路径限制在 root 之下。
type FSResolver struct {
	root            string
	previewMaxBytes int
}

// NewFSResolver 创建解析器。previewMaxBytes 限制文本预览长度。
func NewFSResolver(root string, previewMaxBytes int) *FSResolver {
	return &FSResolver{root: root, previewMaxBytes: previewMaxBytes}
}

var _ FileResolver = (*FSResolver)(nil)

// Resolve 读取 root 下的文件。越界路径拒绝。
func (r *FSResolver) Resolve(path string) (string, bool, error) {
	const op = "FSResolver.Resolve"

	full := filepath.Join(r.root, filepath.Clean("/"+path))
	rel, err := filepath.Rel(r.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false, apperrors.Wrap(apperrors.ErrInvalidInput, op, "path escapes root: "+path)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, apperrors.Wrap(apperrors.ErrNotFound, op, path)
		}
		return "", false, apperrors.Wrap(err, op, "read "+path)
	}

	if mime, ok := imageMIME[strings.ToLower(filepath.Ext(full))]; ok {
		url := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
		return url, true, nil
	}

	if len(data) > r.previewMaxBytes {
		data = data[:r.previewMaxBytes]
	}
	return string(data), false, nil
}

// resolveRefs 把消息上的文件引用展开成请求内容。
// 文本引用拼进用户文本 (带路径标头), 图片引用转成独立 image part。
// 单个引用解析失败只记日志跳过, 不让整次发送失败。
func resolveRefs(resolver FileResolver, text string, refs []string, localFiles []LocalFile) any {
	var imageParts []map[string]any
	var previews strings.Builder

	if resolver != nil {
		for _, ref := range refs {
			content, isBinary, err := resolver.Resolve(ref)
			if err != nil {
				logger.Warn("chat: file reference skipped",
					logger.FieldPath, ref,
					logger.FieldError, err)
				continue
			}
			if isBinary {
				imageParts = append(imageParts, map[string]any{
					"type":      "image_url",
					"image_url": map[string]any{"url": content},
				})
				continue
			}
			fmt.Fprintf(&previews, "\n\nFile: %s\n```\n%s\n```", ref, content)
		}
	}

	for _, lf := range localFiles {
		imageParts = append(imageParts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": lf.DataURL},
		})
	}

	fullText := text + previews.String()
	if len(imageParts) == 0 {
		return fullText
	}

	parts := make([]map[string]any, 0, len(imageParts)+1)
	parts = append(parts, map[string]any{"type": "text", "text": fullText})
	parts = append(parts, imageParts...)
	return parts
}
