package controllers

import (
	"net/http"
	"strconv"
)

// APIResponse 统一API响应结构
type APIResponse struct {
	Status int         `json:"status" example:"0"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data,omitempty"`
}

// PaginatedResponse 分页响应结构
type PaginatedResponse struct {
	Status int         `json:"status" example:"0"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data"`
	Total  int64       `json:"total" example:"100"`
	Page   int         `json:"page" example:"1"`
	Size   int         `json:"size" example:"10"`
}

// SuccessResponse 成功响应，status固定为0
func SuccessResponse(msg string, data interface{}) APIResponse {
	return APIResponse{Status: 0, Msg: msg, Data: data}
}

// SuccessPaginatedResponse 分页成功响应
func SuccessPaginatedResponse(msg string, data interface{}, total int64, page, size int) PaginatedResponse {
	return PaginatedResponse{Status: 0, Msg: msg, Data: data, Total: total, Page: page, Size: size}
}

// ErrorResponse 错误响应，status使用HTTP状态码语义，错误详情放入data
func ErrorResponse(status int, msg string, err error) APIResponse {
	resp := APIResponse{Status: status, Msg: msg}
	if err != nil {
		resp.Data = err.Error()
	}
	return resp
}

// BadRequestResponse 参数错误响应
func BadRequestResponse(msg string, err error) APIResponse {
	return ErrorResponse(http.StatusBadRequest, msg, err)
}

// NotFoundResponse 资源不存在响应
func NotFoundResponse(msg string, err error) APIResponse {
	return ErrorResponse(http.StatusNotFound, msg, err)
}

// InternalErrorResponse 服务器内部错误响应
func InternalErrorResponse(msg string, err error) APIResponse {
	return ErrorResponse(http.StatusInternalServerError, msg, err)
}

// parsePaging 解析page/size查询参数，非法值回落到默认页和默认大小，size受maxSize约束
func parsePaging(r *http.Request, defaultSize, maxSize int) (page, size int) {
	page, size = 1, defaultSize
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if s, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && s > 0 && s <= maxSize {
		size = s
	}
	return page, size
}
