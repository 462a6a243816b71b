package main

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/internal/middleware"
	"github.com/noah-isme/gradebook-api/internal/models"
)

func registerRoutes(api *gin.RouterGroup, a *app, logr *zap.Logger) {
	api.Use(middleware.Metrics(a.metrics))
	audit := func(action models.AuditAction, resource models.AuditResource) gin.HandlerFunc {
		return middleware.Audit(a.users, logr, action, resource)
	}

	auth := api.Group("/auth")
	auth.POST("/register", a.authHandler.Register)
	auth.POST("/login", a.authHandler.Login)
	auth.POST("/google", a.authHandler.Google)
	auth.POST("/refresh", a.authHandler.Refresh)
	auth.POST("/forgot-password", a.authHandler.ForgotPassword)
	auth.POST("/reset-password", a.authHandler.ResetPassword)

	api.GET("/files/download", a.fileHandler.Download)

	protected := api.Group("")
	protected.Use(middleware.JWT(a.auth))

	me := protected.Group("/auth")
	me.POST("/logout", a.authHandler.Logout)
	me.POST("/change-password", a.authHandler.ChangePassword)
	me.GET("/me", a.authHandler.Me)
	me.PATCH("/me", a.authHandler.UpdateMe)
	me.POST("/me/avatar", a.authHandler.UploadAvatar)

	protected.GET("/files/:id", a.fileHandler.Get)

	classes := protected.Group("/classes")
	adminOnly := middleware.RequireRoles(models.RoleAdmin)
	classes.GET("", adminOnly, a.classHandler.List)
	classes.POST("", audit(models.AuditCreate, models.ResourceClass), a.classHandler.Create)
	classes.POST("/admin", adminOnly, audit(models.AuditCreate, models.ResourceClass), a.classHandler.CreateAsAdmin)
	classes.GET("/owned", a.classHandler.ListOwned)
	classes.GET("/joined", a.classHandler.ListJoined)
	classes.POST("/join-with-token", a.classHandler.JoinWithToken)
	classes.POST("/join-with-code", a.classHandler.JoinWithCode)
	classes.GET("/:id", a.classHandler.Get)
	classes.PATCH("/:id", audit(models.AuditUpdate, models.ResourceClass), a.classHandler.Update)
	classes.DELETE("/:id", audit(models.AuditDelete, models.ResourceClass), a.classHandler.Delete)
	classes.PATCH("/:id/restore", audit(models.AuditRestore, models.ResourceClass), a.classHandler.Restore)
	classes.PATCH("/:id/leave", a.classHandler.Leave)
	classes.POST("/:id/kick", audit(models.AuditKick, models.ResourceClass), a.classHandler.Kick)
	classes.POST("/:id/invite-token", a.classHandler.InviteToken)
	classes.POST("/:id/invite", a.classHandler.Invite)
	classes.GET("/:id/members", a.classHandler.Members)

	classes.GET("/:id/students", a.studentHandler.List)
	classes.POST("/:id/students", a.studentHandler.Add)
	classes.DELETE("/:id/students", audit(models.AuditClear, models.ResourceRoster), a.studentHandler.Clear)
	classes.POST("/:id/students/upload", audit(models.AuditUpload, models.ResourceRoster), a.studentHandler.Upload)
	classes.PATCH("/:id/students/:studentId", a.studentHandler.Update)
	classes.DELETE("/:id/students/:studentId", a.studentHandler.Delete)
	classes.GET("/:id/map-student-id", a.studentHandler.Mapped)
	classes.PATCH("/:id/map-student-id", a.studentHandler.Map)
	classes.PATCH("/:id/unmap-student-id", a.studentHandler.Unmap)

	classes.GET("/:id/students/:studentId/grades", a.gradeHandler.StudentGrades)
	classes.GET("/:id/grade-board", a.gradeHandler.Board)
	classes.GET("/:id/grade-board/export", a.gradeHandler.ExportBoard)
	classes.GET("/:id/compositions/csv", a.gradeHandler.ExportCompositions)

	classes.GET("/:id/compositions", a.compositionHandler.List)
	classes.POST("/:id/compositions", a.compositionHandler.Create)
	classes.GET("/:id/reviews", a.reviewHandler.ListByClass)

	compositions := protected.Group("/compositions")
	compositions.GET("/:id", a.compositionHandler.Get)
	compositions.PATCH("/:id", a.compositionHandler.Update)
	compositions.DELETE("/:id", audit(models.AuditDelete, models.ResourceComposition), a.compositionHandler.Delete)
	compositions.PATCH("/:id/order", a.compositionHandler.UpdateOrder)
	compositions.PATCH("/:id/finalize", audit(models.AuditFinalize, models.ResourceComposition), a.compositionHandler.Finalize)
	compositions.PATCH("/:id/grades/upload", audit(models.AuditUpload, models.ResourceGrades), a.compositionHandler.UploadGrades)
	compositions.PATCH("/:id/students/:studentId/grade", a.compositionHandler.UpdateStudentGrade)

	reviews := protected.Group("/reviews")
	reviews.POST("", a.reviewHandler.Create)
	reviews.GET("/:id", a.reviewHandler.Get)
	reviews.PATCH("/:id/status", audit(models.AuditDecide, models.ResourceReview), a.reviewHandler.UpdateStatus)
	reviews.GET("/:id/comments", a.reviewHandler.ListComments)
	reviews.POST("/:id/comments", a.reviewHandler.Comment)
	reviews.GET("/:id/comments/:commentId", a.reviewHandler.GetComment)
	reviews.PATCH("/:id/comments/:commentId", a.reviewHandler.UpdateComment)
	reviews.DELETE("/:id/comments/:commentId", a.reviewHandler.DeleteComment)
	reviews.GET("/:id/comments/:commentId/replies", a.reviewHandler.ListReplies)
	reviews.POST("/:id/comments/:commentId/reply", a.reviewHandler.Reply)

	notifications := protected.Group("/notifications")
	notifications.GET("", a.notificationHandler.List)
	notifications.GET("/unseen-count", a.notificationHandler.UnseenCount)
	notifications.PATCH("/:id/seen", a.notificationHandler.MarkSeen)
}
