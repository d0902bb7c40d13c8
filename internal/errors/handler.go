package errors

import (
	stderrors "errors"

	"github.com/sirupsen/logrus"
)

// 进程退出码
const (
	ExitOK      = 0
	ExitFailure = 1
)

// ErrorHandler 顶层错误处理器：记录首个失败并给出退出码
type ErrorHandler struct {
	logger *logrus.Logger
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle 记录错误并返回进程退出码
func (eh *ErrorHandler) Handle(err error) int {
	if err == nil {
		return ExitOK
	}

	var deployErr *DeployError
	if !stderrors.As(err, &deployErr) {
		eh.logger.WithError(err).Error("部署失败")
		return ExitFailure
	}

	fields := logrus.Fields{
		"error_type": deployErr.Type.String(),
		"error_code": deployErr.Code,
	}
	if deployErr.Component != "" {
		fields["component"] = deployErr.Component
	}
	for k, v := range deployErr.Context {
		fields[k] = v
	}

	eh.logger.WithFields(fields).Error(err.Error())
	return ExitFailure
}
