package embed

import (
	"embed"
	"io/fs"
)

// knowledgeFiles 内置示例知识库，未配置知识目录时使用
//
//go:embed knowledge
var knowledgeFiles embed.FS

// Knowledge 内置知识库文件系统，根目录为 knowledge/
func Knowledge() fs.FS {
	sub, err := fs.Sub(knowledgeFiles, "knowledge")
	if err != nil {
		return knowledgeFiles
	}
	return sub
}
