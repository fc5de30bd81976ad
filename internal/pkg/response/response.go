package response

import (
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

type codeErr struct {
	code uint32
	msg  string
}

func (e codeErr) Error() string {
	return e.msg
}

func (e codeErr) Code() uint32 {
	return e.code
}

func AsCodeErr(code uint32, msg string) error {
	return codeErr{code: code, msg: msg}
}

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, 200, AsCodeErr(uint32(code), message))
}

// Partial answers with data that is usable but incomplete, e.g. a generated
// answer that could not be saved. The error travels inside data.
func Partial(c *gin.Context, code int, message string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	data["error_code"] = code
	data["error"] = message
	proxyutil.SuccessJson(c, data)
}
