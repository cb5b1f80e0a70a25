package handlers

import (
	"campusadmin/internal/middleware"
	"campusadmin/internal/services"
	"campusadmin/pkg/pagination"
	"campusadmin/pkg/response"
	"strings"

	"github.com/gin-gonic/gin"
)

type AdministratorHandler struct {
	service *services.AdminProvisioningService
}

func NewAdministratorHandler(service *services.AdminProvisioningService) *AdministratorHandler {
	return &AdministratorHandler{
		service: service,
	}
}

// Create 开通管理员（JSON 或 multipart，multipart 可附带 avatar 文件）
func (h *AdministratorHandler) Create(c *gin.Context) {
	op, ok := middleware.Operator(c)
	if !ok {
		response.Unauthorized(c, "请先登录")
		return
	}

	form, closer, ok := bindAdminForm(c)
	if !ok {
		return
	}
	defer closer()

	result, err := h.service.Provision(c.Request.Context(), op, *form)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.SuccessWithMessage(c, "管理员开通成功，请将初始密码告知对方并要求首次登录修改", result)
}

// Update 编辑管理员
func (h *AdministratorHandler) Update(c *gin.Context) {
	op, ok := middleware.Operator(c)
	if !ok {
		response.Unauthorized(c, "请先登录")
		return
	}

	form, closer, ok := bindAdminForm(c)
	if !ok {
		return
	}
	defer closer()

	result, err := h.service.Update(c.Request.Context(), op, c.Param("id"), *form)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, result)
}

// GetByID 管理员详情
func (h *AdministratorHandler) GetByID(c *gin.Context) {
	op, ok := middleware.Operator(c)
	if !ok {
		response.Unauthorized(c, "请先登录")
		return
	}

	view, err := h.service.Get(c.Request.Context(), op, c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, view)
}

// GetAll 分页查询，支持 tenant_id 与 keyword 筛选
func (h *AdministratorHandler) GetAll(c *gin.Context) {
	op, ok := middleware.Operator(c)
	if !ok {
		response.Unauthorized(c, "请先登录")
		return
	}

	pageParams := pagination.ParsePageParams(c)
	views, total, err := h.service.List(c.Request.Context(), op, c.Query("tenant_id"), c.Query("keyword"), pageParams.Page, pageParams.PageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}

	pageInfo := pagination.NewPageInfo(pageParams.Page, pageParams.PageSize, total)
	response.SuccessWithPage(c, views, pageInfo)
}

// Delete 移除管理员
func (h *AdministratorHandler) Delete(c *gin.Context) {
	op, ok := middleware.Operator(c)
	if !ok {
		response.Unauthorized(c, "请先登录")
		return
	}

	if err := h.service.Remove(c.Request.Context(), op, c.Param("id")); err != nil {
		response.FromError(c, err)
		return
	}

	response.SuccessWithMessage(c, "删除成功", nil)
}

// bindAdminForm 解析表单，返回的 closer 负责关闭上传文件
func bindAdminForm(c *gin.Context) (*services.AdminForm, func(), bool) {
	noop := func() {}
	var form services.AdminForm

	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBindJSON(&form); err != nil {
			response.BadRequest(c, "参数错误")
			return nil, noop, false
		}
		return &form, noop, true
	}

	if err := c.ShouldBind(&form); err != nil {
		response.BadRequest(c, "参数错误")
		return nil, noop, false
	}
	form.Capabilities = splitFormList(c.PostFormArray("capabilities"))

	header, err := c.FormFile("avatar")
	if err != nil {
		// 未上传头像
		return &form, noop, true
	}
	file, err := header.Open()
	if err != nil {
		response.BadRequest(c, "读取头像文件失败")
		return nil, noop, false
	}
	form.Avatar = &services.AvatarUpload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
	return &form, func() { _ = file.Close() }, true
}

// splitFormList 兼容重复字段和逗号分隔两种写法
func splitFormList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
