package service

import (
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/spf13/afero"
	"github.com/valyala/fasttemplate"
	"github.com/xuhao2004/kimochi"
	"gopkg.in/yaml.v3"
)

const defaultTemplatesFile = "messages.yaml"

// Message 渲染后的消息
type Message struct {
	Subject string
	Body    string
}

type messageTemplate struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// TemplateRenderer 邮件/短信模板渲染
type TemplateRenderer struct {
	templates map[string]messageTemplate
}

// NewTemplateRenderer 加载内置模板，overridePath 非空时从 fsys 读取并覆盖同名条目
func NewTemplateRenderer(fsys afero.Fs, overridePath string) (*TemplateRenderer, error) {
	data, err := fs.ReadFile(kimochi.TemplatesFS(), defaultTemplatesFile)
	if err != nil {
		return nil, fmt.Errorf("读取内置模板失败: %w", err)
	}
	templates := make(map[string]messageTemplate)
	if err := yaml.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("解析内置模板失败: %w", err)
	}

	if overridePath != "" {
		data, err := afero.ReadFile(fsys, overridePath)
		if err != nil {
			return nil, fmt.Errorf("读取模板文件失败: %w", err)
		}
		overrides := make(map[string]messageTemplate)
		if err := yaml.Unmarshal(data, &overrides); err != nil {
			return nil, fmt.Errorf("解析模板文件失败: %w", err)
		}
		for name, tpl := range overrides {
			templates[name] = tpl
		}
	}

	// 启动时校验占位符语法
	for name, tpl := range templates {
		if _, err := fasttemplate.NewTemplate(tpl.Subject, "{{", "}}"); err != nil {
			return nil, fmt.Errorf("模板 %s 标题格式错误: %w", name, err)
		}
		if _, err := fasttemplate.NewTemplate(tpl.Body, "{{", "}}"); err != nil {
			return nil, fmt.Errorf("模板 %s 正文格式错误: %w", name, err)
		}
	}

	return &TemplateRenderer{templates: templates}, nil
}

// Render 渲染模板，缺失的变量替换为空串
func (r *TemplateRenderer) Render(name string, vars map[string]string) (*Message, error) {
	tpl, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("模板 %s 不存在", name)
	}
	subject, err := execute(tpl.Subject, vars)
	if err != nil {
		return nil, err
	}
	body, err := execute(tpl.Body, vars)
	if err != nil {
		return nil, err
	}
	return &Message{Subject: subject, Body: body}, nil
}

// Has 模板是否存在
func (r *TemplateRenderer) Has(name string) bool {
	_, ok := r.templates[name]
	return ok
}

func execute(text string, vars map[string]string) (string, error) {
	if text == "" {
		return "", nil
	}
	t, err := fasttemplate.NewTemplate(text, "{{", "}}")
	if err != nil {
		return "", err
	}
	return t.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		return w.Write([]byte(vars[strings.TrimSpace(tag)]))
	}), nil
}
