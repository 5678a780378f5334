package node

import "github.com/gin-gonic/gin"

// Node is a process that exposes an admin HTTP router.
type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
}
