package errs

import "errors"

// 错误分类哨兵值，调用方通过 errors.Is 判断错误类型。
// 五种上游依赖错误（数据库/向量/LLM/解析/配置）在 HTTP 边界统一映射为 502，
// 输入校验错误映射为 400，其余为 500。
var (
	// ErrConfiguration 缺少凭证或必要配置，属于致命错误，不重试
	ErrConfiguration = errors.New("configuration error")

	// ErrValidation 调用方输入非法（如空查询文本）
	ErrValidation = errors.New("validation error")

	// ErrDatabase 数据库不可达或查询失败
	ErrDatabase = errors.New("database error")

	// ErrEmbedding 向量服务调用失败
	ErrEmbedding = errors.New("embedding error")

	// ErrLLM 语言模型调用失败（适配器内置一次重试后仍失败）
	ErrLLM = errors.New("llm error")

	// ErrParse 模型输出无法解析为合法的 id->理由 JSON 对象
	ErrParse = errors.New("parse error")
)

// IsUpstream 判断是否属于“上游依赖失败”类错误
func IsUpstream(err error) bool {
	return errors.Is(err, ErrDatabase) ||
		errors.Is(err, ErrEmbedding) ||
		errors.Is(err, ErrLLM) ||
		errors.Is(err, ErrParse) ||
		errors.Is(err, ErrConfiguration)
}
