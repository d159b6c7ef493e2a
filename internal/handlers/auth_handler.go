package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"vault-backend/internal/config"
	"vault-backend/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// JWTClaims carries the authenticated wallet identity
type JWTClaims struct {
	Owner   string `json:"owner"`
	ChainID int    `json:"chain_id"`
	jwt.RegisteredClaims
}

// AuthHandler issues JWT tokens against a signed wallet challenge
type AuthHandler struct {
	mu     sync.Mutex
	nonces map[string]nonceEntry // key: lowercase address
}

type nonceEntry struct {
	nonce     string
	expiresAt time.Time
}

// NewAuthHandler creates the auth handler
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{nonces: make(map[string]nonceEntry)}
}

func jwtSecret() []byte {
	if config.AppConfig != nil {
		return []byte(config.AppConfig.Auth.JWTSecret)
	}
	return nil
}

// GenerateNonceHandler handles GET /api/v1/auth/nonce?address=0x...
// The returned nonce must be signed (EIP-191 personal message) to log in.
func (h *AuthHandler) GenerateNonceHandler(c *gin.Context) {
	address := c.Query("address")
	if !utils.IsEvmAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid address"})
		return
	}

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to generate nonce"})
		return
	}
	nonce := hex.EncodeToString(raw)

	h.mu.Lock()
	h.nonces[strings.ToLower(address)] = nonceEntry{
		nonce:     nonce,
		expiresAt: time.Now().Add(5 * time.Minute),
	}
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"nonce":   nonce,
		"message": loginMessage(nonce),
	})
}

type loginRequest struct {
	Address   string `json:"address" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	ChainID   int    `json:"chain_id"`
}

// LoginHandler handles POST /api/v1/auth/login: verifies the signed nonce
// and issues a JWT bound to the wallet address.
func (h *AuthHandler) LoginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body", "details": err.Error()})
		return
	}
	if !utils.IsEvmAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid address"})
		return
	}

	h.mu.Lock()
	entry, ok := h.nonces[strings.ToLower(req.Address)]
	delete(h.nonces, strings.ToLower(req.Address))
	h.mu.Unlock()

	if !ok || time.Now().After(entry.expiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Nonce expired or unknown, request a new one"})
		return
	}

	recovered, err := recoverSigner(loginMessage(entry.nonce), req.Signature)
	if err != nil || recovered != common.HexToAddress(req.Address) {
		logrus.WithFields(logrus.Fields{
			"address": req.Address,
		}).Warn("Login signature verification failed")
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Signature verification failed"})
		return
	}

	token, err := generateJWTToken(common.HexToAddress(req.Address).Hex(), req.ChainID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}

// loginMessage is the personal-sign payload binding a nonce
func loginMessage(nonce string) string {
	return fmt.Sprintf("Sign in to vault-backend\nNonce: %s", nonce)
}

// recoverSigner recovers the address from an EIP-191 personal signature
func recoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	// wallets return V as 27/28, recovery wants 0/1
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	digest := crypto.Keccak256([]byte(prefixed))

	pubKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// generateJWTToken signs a 24h HS256 token for the wallet
func generateJWTToken(owner string, chainID int) (string, error) {
	claims := JWTClaims{
		Owner:   owner,
		ChainID: chainID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "vault-backend",
			Subject:   owner,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jwtSecret())
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateJWTToken verifies a bearer token and returns its claims
func ValidateJWTToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}
