package notify

// Kind 通知类别（处理结果）
type Kind string

const (
	KindProcessed          Kind = "processed"
	KindResolutionWarning  Kind = "resolution_warning"
	KindTemplateSent       Kind = "template_sent"
	KindTemplateUpdated    Kind = "template_updated"
	KindValidationError    Kind = "validation_error"
	KindUnsupportedCommand Kind = "unsupported_command"
	KindUnauthorizedSender Kind = "unauthorized_sender"
	KindTransformFailure   Kind = "transform_failure"
	KindHelp               Kind = "help"
)

// IsError 是否属于错误类结果
func (k Kind) IsError() bool {
	switch k {
	case KindValidationError, KindUnsupportedCommand, KindUnauthorizedSender, KindTransformFailure:
		return true
	}
	return false
}

// Rule 通知规则
type Rule struct {
	Subject     string
	Body        string // text/template
	Reply       bool   // 是否回复请求人
	AlertAdmins bool   // 是否另发管理员告警
	Attach      bool   // 回复是否附带文件
}

const alertSubject = "URGENT: Salesforce Pipeline Automation Error"

// rules 每个 Kind 唯一对应一条规则
var rules = map[Kind]Rule{
	KindProcessed:          {Subject: "Your Processed Salesforce Pipeline", Body: processedBody, Reply: true, Attach: true},
	KindResolutionWarning:  {Subject: "Your Processed Salesforce Pipeline", Body: processedBody, Reply: true, Attach: true},
	KindTemplateSent:       {Subject: "Template for Column Adjustment", Body: templateSentBody, Reply: true, Attach: true},
	KindTemplateUpdated:    {Subject: "Template Update Confirmation", Body: templateUpdatedBody, Reply: true},
	KindValidationError:    {Subject: "Template Update Failed", Body: templateFailedBody, Reply: true},
	KindUnsupportedCommand: {Subject: "Interact with the MAG bot to configure your file", Body: unsupportedBody, Reply: true},
	KindUnauthorizedSender: {Subject: "Unauthorized Request", Body: unauthorizedBody, Reply: false},
	KindTransformFailure:   {Subject: "Pipeline Processing Error", Body: failureBody, Reply: true, AlertAdmins: true},
	KindHelp:               {Subject: "Interact with the MAG bot to configure your file", Body: helpBody, Reply: true},
}

// RuleFor 查找规则
func RuleFor(k Kind) (Rule, bool) {
	r, ok := rules[k]
	return r, ok
}
