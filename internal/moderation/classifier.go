package moderation

import (
	"context"
	"fmt"

	"chat-core/internal/grpcclient"

	"google.golang.org/protobuf/types/known/structpb"
)

// Result 分類器返回的評分結果.
type Result struct {
	Score    int
	Flags    []string
	Approved bool
}

// Classifier 外部內容分類器接口.
// 固定分類法：仇恨言論、騷擾、成人內容、暴力、垃圾訊息、錯誤訊息.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Result, error)
}

// 分類器服務的 gRPC 方法全名.
const classifyMethod = "/moderation.v1.ContentClassifier/Classify"

// GRPCClassifier 透過共享 gRPC 連接調用外部分類器.
type GRPCClassifier struct {
	manager *grpcclient.Manager
}

// NewGRPCClassifier 創建 gRPC 分類器客戶端.
func NewGRPCClassifier(manager *grpcclient.Manager) *GRPCClassifier {
	return &GRPCClassifier{manager: manager}
}

// Classify 提交文本給外部分類器評分.
func (c *GRPCClassifier) Classify(ctx context.Context, text string) (*Result, error) {
	conn, err := c.manager.Connection()
	if err != nil {
		return nil, fmt.Errorf("分類器連接失敗: %w", err)
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"text": text,
	})
	if err != nil {
		return nil, fmt.Errorf("構造分類請求失敗: %w", err)
	}

	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, classifyMethod, req, resp); err != nil {
		return nil, fmt.Errorf("分類器調用失敗: %w", err)
	}

	return parseResult(resp), nil
}

// parseResult 解析分類器響應.
// 缺失字段按安全默認值處理（分數 0、無旗標）.
func parseResult(resp *structpb.Struct) *Result {
	result := &Result{}
	fields := resp.GetFields()

	if v, ok := fields["score"]; ok {
		result.Score = int(v.GetNumberValue())
	}
	if v, ok := fields["approved"]; ok {
		result.Approved = v.GetBoolValue()
	}
	if v, ok := fields["flags"]; ok {
		for _, item := range v.GetListValue().GetValues() {
			if s := item.GetStringValue(); s != "" {
				result.Flags = append(result.Flags, s)
			}
		}
	}
	return result
}
