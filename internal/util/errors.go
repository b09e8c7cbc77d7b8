package util

import "errors"

var (
	ErrUserNotFound     = errors.New("用户不存在")
	ErrEmailRegistered  = errors.New("该邮箱已被注册")
	ErrInvalidPassword  = errors.New("邮箱或密码错误")
	ErrPermissionDenied = errors.New("没有权限执行该操作")
	ErrCourseNotFound   = errors.New("课程不存在")
	ErrModuleNotFound   = errors.New("课程模块不存在")
	ErrLessonNotFound   = errors.New("课时不存在")
)
