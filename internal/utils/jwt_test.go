package utils

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// JWTTestSuite JWT工具测试套件
type JWTTestSuite struct {
	suite.Suite
	manager *JWTManager
}

func (suite *JWTTestSuite) SetupTest() {
	suite.manager = NewJWTManager("test-secret-key", time.Hour)
}

// 测试生成与验证令牌
func (suite *JWTTestSuite) TestGenerateAndValidate() {
	token, err := suite.manager.GenerateToken("bench-01", RoleOperator)
	suite.NoError(err)
	suite.NotEmpty(token)

	claims, err := suite.manager.ValidateToken(token)
	suite.Require().NoError(err)
	suite.Equal("bench-01", claims.Subject)
	suite.Equal(RoleOperator, claims.Role)
	suite.Equal("bridgeplate", claims.Issuer)
	suite.NotEmpty(claims.ID)
}

// 测试验证无效令牌
func (suite *JWTTestSuite) TestValidateInvalidToken() {
	claims, err := suite.manager.ValidateToken("invalid.token.format")
	suite.Error(err)
	suite.Nil(claims)

	// 错误的签名
	wrongManager := NewJWTManager("wrong-secret", time.Hour)
	token, _ := wrongManager.GenerateToken("bench-01", RoleViewer)
	claims, err = suite.manager.ValidateToken(token)
	suite.Error(err)
	suite.Nil(claims)
}

// 测试过期令牌
func (suite *JWTTestSuite) TestExpiredToken() {
	expiredManager := NewJWTManager("test-secret-key", -time.Hour)

	token, _ := expiredManager.GenerateToken("bench-01", RoleViewer)

	claims, err := suite.manager.ValidateToken(token)
	suite.ErrorIs(err, ErrExpiredToken)
	suite.Nil(claims)
}

func (suite *JWTTestSuite) TestGetTokenExpiry() {
	suite.Equal(time.Hour, suite.manager.GetTokenExpiry())
}

// 测试并发生成令牌
func (suite *JWTTestSuite) TestConcurrentTokenGeneration() {
	done := make(chan string, 10)

	for i := 0; i < 10; i++ {
		go func(id int) {
			token, err := suite.manager.GenerateToken(fmt.Sprintf("client-%d", id), RoleViewer)
			suite.NoError(err)
			done <- token
		}(i)
	}

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		seen[<-done] = true
	}
	suite.Len(seen, 10)
}

func TestJWTTestSuite(t *testing.T) {
	suite.Run(t, new(JWTTestSuite))
}
