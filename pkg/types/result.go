package types

// ProviderResult - 单次提供商调用的归一化结果
type ProviderResult struct {
	Success    bool   `json:"success"`
	Content    string `json:"content,omitempty"`
	Error      string `json:"error,omitempty"`
	TokensUsed int    `json:"tokens_used"`
}

// RouteResult - ExecuteWithFallback 返回给调用方的契约，不落库
type RouteResult struct {
	Success    bool   `json:"success"`
	Content    string `json:"content,omitempty"`
	Error      string `json:"error,omitempty"`
	TokensUsed int    `json:"tokens_used"`
	KeyID      string `json:"key_id,omitempty"`
	Attempts   int    `json:"attempts"`
}

// FailureRecord - 记录一次密钥失败后的结果
type FailureRecord struct {
	KeyID        string `json:"key_id"`
	FailureCount int    `json:"failure_count"`
	Degraded     bool   `json:"degraded"`
}
