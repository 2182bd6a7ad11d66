package testutil

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey struct{}

// requireUser validates the bearer JWT the way the production server does,
// telling expired tokens apart from invalid ones.
func (b *Backend) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) {
			httpError(w, http.StatusUnauthorized, "로그인이 필요합니다.")
			return
		}
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(auth[len(prefix):], claims, func(*jwt.Token) (any, error) {
			return b.Secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false, "error": "세션이 만료되었습니다. 다시 로그인해주세요.", "code": "TOKEN_EXPIRED",
			})
			return
		case err != nil:
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false, "error": "잘못된 인증 정보입니다.", "code": "INVALID_TOKEN",
			})
			return
		}

		b.mu.Lock()
		var u *user
		for _, candidate := range b.users {
			if candidate.ID == claims["user_id"] {
				u = candidate
				break
			}
		}
		b.mu.Unlock()
		if u == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false, "error": "인증 실패 또는 잘못된 요청입니다.", "code": "AUTH_FAILED",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	})
}

func currentUser(r *http.Request) *user {
	u, _ := r.Context().Value(ctxKey{}).(*user)
	return u
}

func (b *Backend) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "timestamp": time.Now().Format(time.RFC3339)})
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	email, password := str(body, "email"), str(body, "password")
	if email == "" || password == "" {
		httpError(w, http.StatusBadRequest, "이메일과 비밀번호를 입력해주세요.")
		return
	}
	b.mu.Lock()
	u := b.users[email]
	ttl := b.tokenTTL
	b.mu.Unlock()
	if u == nil || u.Password != password {
		httpError(w, http.StatusUnauthorized, "이메일 또는 비밀번호가 올바르지 않습니다.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "로그인 성공",
		"token":   b.sign(u, ttl),
		"user":    map[string]any{"id": u.ID, "email": u.Email, "name": u.Name, "username": u.Username},
	})
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	email, password := str(body, "email"), str(body, "password")
	if email == "" || password == "" {
		httpError(w, http.StatusBadRequest, "이메일과 비밀번호를 제공해주세요")
		return
	}
	b.mu.Lock()
	if _, exists := b.users[email]; exists {
		b.mu.Unlock()
		httpError(w, http.StatusConflict, "이미 등록된 이메일입니다")
		return
	}
	id := b.addUserLocked(email, password, str(body, "name"))
	u := b.users[email]
	issue, ttl := b.registerTok, b.tokenTTL
	b.mu.Unlock()

	resp := map[string]any{
		"success": true,
		"data":    map[string]any{"id": id, "email": u.Email, "name": u.Name, "username": u.Username, "role": u.Role},
	}
	if issue {
		resp["token"] = b.sign(u, ttl)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (b *Backend) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	if str(decodeBody(r), "email") == "" {
		httpError(w, http.StatusBadRequest, "이메일을 입력해주세요.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "비밀번호 재설정 안내가 이메일로 발송되었습니다."})
}

func (b *Backend) handleReset(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	if str(body, "token") == "" || str(body, "password") == "" {
		httpError(w, http.StatusBadRequest, "토큰과 새 비밀번호가 필요합니다.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "비밀번호가 변경되었습니다."})
}

func (b *Backend) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	u := currentUser(r)
	b.mu.Lock()
	defer b.mu.Unlock()
	if str(body, "current_password") != u.Password {
		httpError(w, http.StatusBadRequest, "현재 비밀번호가 올바르지 않습니다.")
		return
	}
	u.Password = str(body, "new_password")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "비밀번호가 성공적으로 변경되었습니다."})
}

func (b *Backend) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	b.mu.Lock()
	delete(b.users, u.Email)
	for id, rec := range b.records {
		if rec.UserID == u.ID {
			delete(b.records, id)
		}
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "계정이 삭제되었습니다."})
}

func (b *Backend) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"id": u.ID, "email": u.Email, "name": u.Name, "username": u.Username, "role": u.Role},
	})
}

func (b *Backend) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	u := currentUser(r)
	b.mu.Lock()
	if v, ok := body["name"].(string); ok {
		u.Name = v
	}
	if v, ok := body["username"].(string); ok {
		u.Username = v
	}
	ttl := b.tokenTTL
	name, username := u.Name, u.Username
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "프로필이 성공적으로 업데이트되었습니다.",
		"token":   b.sign(u, ttl),
		"data":    map[string]any{"name": name, "username": username},
	})
}

func (b *Backend) store(u *user, filename, text, model, language string) *Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	rec := &Record{
		ID:            b.nextID,
		UserID:        u.ID,
		Filename:      filename,
		ExtractedText: text,
		CreatedAt:     b.now(),
		SourceType:    "image",
		OCRModel:      model,
		Language:      language,
	}
	b.records[rec.ID] = rec
	return rec
}

func (b *Backend) failureFor(name string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg, ok := b.failFiles[name]
	return msg, ok
}

// TextFor is the text the backend "recognises" in a file.
func TextFor(originalName string) string {
	return "text of " + originalName
}

func (b *Backend) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.MultipartForm == nil {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			httpError(w, http.StatusBadRequest, "파일이 업로드되지 않았습니다.")
			return
		}
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "파일이 업로드되지 않았습니다.")
		return
	}
	file.Close()
	original := r.FormValue("original_filename")
	if original == "" {
		original = header.Filename
	}
	if b.OnExtract != nil {
		b.OnExtract(r, original)
	}
	if r.Context().Err() != nil {
		return
	}
	if msg, fail := b.failureFor(original); fail {
		httpError(w, http.StatusInternalServerError, msg)
		return
	}
	model := r.FormValue("model")
	rec := b.store(currentUser(r), original, TextFor(original), model, r.FormValue("language"))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"extracted_text": rec.ExtractedText,
		"id":             rec.ID,
		"model":          model,
		"filename":       original,
	})
}

func (b *Backend) handleExtractBase64(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	data := str(body, "file_data")
	if i := strings.Index(data, ","); strings.HasPrefix(data, "data:") && i >= 0 {
		data = data[i+1:]
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil || data == "" {
		httpError(w, http.StatusBadRequest, "잘못된 이미지 데이터입니다.")
		return
	}
	original := str(body, "original_filename")
	if original == "" {
		original = str(body, "filename")
	}
	if b.OnExtract != nil {
		b.OnExtract(r, original)
	}
	if r.Context().Err() != nil {
		return
	}
	if msg, fail := b.failureFor(original); fail {
		httpError(w, http.StatusInternalServerError, msg)
		return
	}
	model := str(body, "model")
	rec := b.store(currentUser(r), original, TextFor(original), model, str(body, "language"))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"text":           rec.ExtractedText,
		"extracted_text": rec.ExtractedText,
		"image_url":      "/uploads/" + str(body, "filename"),
		"id":             rec.ID,
		"model":          model,
	})
}

func (b *Backend) handleList(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	b.mu.Lock()
	var recs []*Record
	for _, rec := range b.records {
		if rec.UserID == u.ID {
			recs = append(recs, rec)
		}
	}
	// Scrambled so clients cannot rely on server order.
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID%2 < recs[j].ID%2 })
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, b.recordJSON(rec))
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": out})
}

func (b *Backend) owned(w http.ResponseWriter, r *http.Request) (*Record, bool) {
	id, err := pathID(r)
	if err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	u := currentUser(r)
	b.mu.Lock()
	rec, ok := b.records[id]
	b.mu.Unlock()
	if !ok || rec.UserID != u.ID {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"error":   "요청한 추출 정보를 찾을 수 없습니다.",
		})
		return nil, false
	}
	return rec, true
}

func (b *Backend) handleDelete(w http.ResponseWriter, r *http.Request) {
	rec, ok := b.owned(w, r)
	if !ok {
		return
	}
	b.mu.Lock()
	delete(b.records, rec.ID)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "추출 정보가 성공적으로 삭제되었습니다."})
}

func (b *Backend) handleRename(w http.ResponseWriter, r *http.Request) {
	rec, ok := b.owned(w, r)
	if !ok {
		return
	}
	name := strings.TrimSpace(str(decodeBody(r), "filename"))
	if name == "" {
		httpError(w, http.StatusBadRequest, "파일명은 비워둘 수 없습니다.")
		return
	}
	b.mu.Lock()
	rec.Filename = name
	rec.UpdatedAt = b.now()
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "파일명이 성공적으로 변경되었습니다."})
}

func (b *Backend) handleBookmark(w http.ResponseWriter, r *http.Request) {
	rec, ok := b.owned(w, r)
	if !ok {
		return
	}
	b.mu.Lock()
	rec.IsBookmarked = !rec.IsBookmarked
	state := rec.IsBookmarked
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "북마크 상태가 성공적으로 변경되었습니다.",
		"data":    map[string]any{"is_bookmarked": state},
	})
}

func (b *Backend) handleGetText(w http.ResponseWriter, r *http.Request) {
	rec, ok := b.owned(w, r)
	if !ok {
		return
	}
	b.mu.Lock()
	out := b.recordJSON(rec)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": out})
}

func (b *Backend) handlePutText(w http.ResponseWriter, r *http.Request) {
	rec, ok := b.owned(w, r)
	if !ok {
		return
	}
	body := decodeBody(r)
	text, present := body["text"].(string)
	if !present {
		httpError(w, http.StatusBadRequest, "업데이트할 텍스트가 제공되지 않았습니다.")
		return
	}
	b.mu.Lock()
	rec.ExtractedText = text
	rec.UpdatedAt = b.now()
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "텍스트가 성공적으로 업데이트되었습니다."})
}

func uploadedName(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.MultipartForm == nil {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			httpError(w, http.StatusBadRequest, "파일이 제공되지 않았습니다")
			return "", false
		}
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "파일이 제공되지 않았습니다")
		return "", false
	}
	_, _ = io.Copy(io.Discard, file)
	file.Close()
	return header.Filename, true
}

func (b *Backend) handleReceipt(w http.ResponseWriter, r *http.Request) {
	name, ok := uploadedName(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"store":          "테스트마트",
		"date":           "2024-03-01",
		"time":           "12:34",
		"items":          []map[string]any{{"name": "우유", "quantity": 2, "unit_price": 1500, "price": 3000}},
		"total_amount":   3000,
		"payment_method": "카드",
		"full_text":      TextFor(name),
		"ocr_model":      r.FormValue("ocr_model"),
	})
}

func (b *Backend) handleBusinessCard(w http.ResponseWriter, r *http.Request) {
	name, ok := uploadedName(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"name":      "홍길동",
		"position":  "팀장",
		"company":   "예시상사",
		"email":     []string{"hong@example.com"},
		"phone":     "010-1234-5678",
		"address":   nil,
		"website":   nil,
		"full_text": TextFor(name),
		"ocr_model": "tesseract",
	})
}

func (b *Backend) handleTable(w http.ResponseWriter, r *http.Request) {
	name, ok := uploadedName(w, r)
	if !ok {
		return
	}
	format := r.FormValue("format")
	if format != "csv" && format != "excel" {
		httpError(w, http.StatusBadRequest, "지원되지 않는 출력 형식입니다")
		return
	}
	base := strings.TrimSuffix(name, "."+r.FormValue("file_extension"))
	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_table.csv"`, base))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "a,b\n1,2\n")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_table.xlsx"`, base))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("PK\x03\x04"))
}

func (b *Backend) handleSummarize(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	text := str(body, "text")
	if text == "" {
		httpError(w, http.StatusBadRequest, "요약할 텍스트가 없습니다.")
		return
	}
	summary := []rune(text)
	if len(summary) > 10 {
		summary = summary[:10]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"summary":         string(summary),
			"original_length": len([]rune(text)),
			"summary_length":  len(summary),
			"ratio":           float64(len(summary)) / float64(len([]rune(text))),
			"engine":          str(body, "engine"),
			"style":           str(body, "style"),
			"model_name":      "fake",
		},
	})
}

func (b *Backend) handleTranslate(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	text, target := str(body, "text"), str(body, "target_lang")
	if text == "" || target == "" {
		httpError(w, http.StatusBadRequest, "번역할 텍스트와 대상 언어가 필요합니다.")
		return
	}
	source := str(body, "source_lang")
	if source == "" {
		source = "ko"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"original_text":        text,
			"translated_text":      "[" + target + "] " + text,
			"source_language":      source,
			"source_language_name": "Korean",
			"target_language":      target,
			"target_language_name": strings.ToUpper(target),
		},
	})
}

func (b *Backend) handleDetect(w http.ResponseWriter, r *http.Request) {
	text := str(decodeBody(r), "text")
	if text == "" {
		httpError(w, http.StatusBadRequest, "텍스트가 필요합니다.")
		return
	}
	code, name := "en", "English"
	for _, r := range text {
		if r >= 0xAC00 && r <= 0xD7A3 {
			code, name = "ko", "Korean"
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"language": code, "language_name": name},
	})
}
