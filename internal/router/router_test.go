// internal/router/router_test.go
package router

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/jbn434/lambda/internal/config"
	"github.com/jbn434/lambda/internal/store"
	"github.com/jbn434/lambda/internal/utils"
)

type RouterSuite struct {
	suite.Suite
	router *gin.Engine

	adminToken     string
	applicantToken string
	applicantID    uuid.UUID
}

func (s *RouterSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Environment: "test",
		JWT:         config.JWTConfig{SecretKey: "test-secret", Issuer: "license-registry-test"},
		Redis:       config.RedisConfig{Enabled: false},
		AWS:         config.AWSConfig{LocalStorageDir: s.T().TempDir()},
		Engine: config.EngineConfig{
			ConflictPolicy:       config.ConflictPolicyWait,
			RenewalWindowDays:    60,
			LicenseValidityYears: 5,
		},
	}

	svc, err := NewServices(store.NewMemoryStore(), cfg)
	s.Require().NoError(err)
	s.router = Initialize(svc, cfg)

	s.applicantID = uuid.New()
	s.adminToken, err = utils.GenerateJWT(uuid.New(), "admin", time.Hour)
	s.Require().NoError(err)
	s.applicantToken, err = utils.GenerateJWT(s.applicantID, "applicant", time.Hour)
	s.Require().NoError(err)
}

func (s *RouterSuite) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *RouterSuite) envelope(w *httptest.ResponseRecorder) map[string]interface{} {
	var response map[string]interface{}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func (s *RouterSuite) preRegistrationBody() map[string]interface{} {
	return map[string]interface{}{
		"holder_id":      s.applicantID,
		"first_name":     "Ada",
		"last_name":      "Obi",
		"email":          "ada.obi@example.com",
		"phone":          "+2348012345678",
		"date_of_birth":  "1990-04-12T00:00:00Z",
		"gender":         "female",
		"lga":            "Ikeja",
		"state_of_birth": "Lagos",
		"address":        "12 Allen Avenue, Ikeja",
		"license_class":  "B",
	}
}

// createIssued drives one application to issuance over HTTP and returns the
// application and license numbers.
func (s *RouterSuite) createIssued() (string, string) {
	w := s.do("POST", "/license/pre-registration", s.applicantToken, s.preRegistrationBody())
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	data := s.envelope(w)["data"].(map[string]interface{})
	applicationNo := data["application"].(map[string]interface{})["application_no"].(string)

	w = s.do("POST", "/license/submit-pre-registration-files", s.applicantToken, map[string]interface{}{
		"application_no": applicationNo,
		"files": []map[string]interface{}{
			{
				"document_type": "photograph",
				"file_name":     "photo.jpg",
				"content_type":  "image/jpeg",
				"data":          base64.StdEncoding.EncodeToString([]byte("photo")),
			},
			{
				"document_type": "signature",
				"file_name":     "sig.png",
				"content_type":  "image/png",
				"data":          base64.StdEncoding.EncodeToString([]byte("sig")),
			},
		},
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do("POST", "/license/submit-new-request", s.applicantToken, map[string]interface{}{
		"application_no": applicationNo,
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do("POST", "/license/approve", s.adminToken, map[string]interface{}{
		"application_no": applicationNo,
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	result := s.envelope(w)["data"].(map[string]interface{})
	licenseNo := result["license"].(map[string]interface{})["license_no"].(string)
	return applicationNo, licenseNo
}

func (s *RouterSuite) TestUnauthenticatedRequestRejected() {
	w := s.do("POST", "/license/pre-registration", "", s.preRegistrationBody())
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal(false, s.envelope(w)["success"])
}

func (s *RouterSuite) TestApplicantCannotApprove() {
	w := s.do("POST", "/license/approve", s.applicantToken, map[string]interface{}{
		"application_no": "APP-2608ANYTHING",
	})
	s.Equal(http.StatusForbidden, w.Code)
}

func (s *RouterSuite) TestApplicantCannotSeeDashboard() {
	w := s.do("GET", "/license/dashboard/summary", s.applicantToken, nil)
	s.Equal(http.StatusForbidden, w.Code)
}

func (s *RouterSuite) TestFullIssuanceFlow() {
	applicationNo, licenseNo := s.createIssued()
	s.NotEmpty(applicationNo)
	s.NotEmpty(licenseNo)

	// Verification is open to anyone.
	w := s.do("GET", fmt.Sprintf("/license/verify?license_no=%s", licenseNo), "", nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	data := s.envelope(w)["data"].(map[string]interface{})
	s.Equal(true, data["valid"])
	s.Equal(licenseNo, data["license_no"])
}

func (s *RouterSuite) TestDetailsByLicenseNoIsOpen() {
	_, licenseNo := s.createIssued()

	// No bearer token; the lookup is a public read like /verify.
	w := s.do("GET", fmt.Sprintf("/license/details-by-license-no?license_no=%s", licenseNo), "", nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	data := s.envelope(w)["data"].(map[string]interface{})
	lic := data["license"].(map[string]interface{})
	s.Equal(licenseNo, lic["license_no"])
}

func (s *RouterSuite) TestVerifyUnknownLicense() {
	w := s.do("GET", "/license/verify?license_no=DL-26UNKNOWN99", "", nil)
	s.Equal(http.StatusNotFound, w.Code)

	response := s.envelope(w)
	s.Equal(false, response["success"])
	errObj := response["error"].(map[string]interface{})
	s.Equal("NOT_FOUND", errObj["code"])
}

func (s *RouterSuite) TestSubmitIncompleteApplication() {
	w := s.do("POST", "/license/pre-registration", s.applicantToken, s.preRegistrationBody())
	s.Require().Equal(http.StatusCreated, w.Code)

	data := s.envelope(w)["data"].(map[string]interface{})
	applicationNo := data["application"].(map[string]interface{})["application_no"].(string)

	// No documents attached yet.
	w = s.do("POST", "/license/submit-new-request", s.applicantToken, map[string]interface{}{
		"application_no": applicationNo,
	})
	s.Equal(http.StatusUnprocessableEntity, w.Code)

	errObj := s.envelope(w)["error"].(map[string]interface{})
	s.Equal("INCOMPLETE_APPLICATION", errObj["code"])
}

func (s *RouterSuite) TestDashboardSummaryForAdmin() {
	s.createIssued()

	w := s.do("GET", "/license/dashboard/summary", s.adminToken, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	data := s.envelope(w)["data"].(map[string]interface{})
	byState := data["applications_by_state"].(map[string]interface{})
	s.Equal(float64(1), byState["issued"])
}

func (s *RouterSuite) TestExpireRequiresAdmin() {
	_, licenseNo := s.createIssued()

	w := s.do("POST", "/license/expire", s.applicantToken, map[string]interface{}{
		"license_no": licenseNo,
	})
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do("POST", "/license/expire", s.adminToken, map[string]interface{}{
		"license_no": licenseNo,
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	// The expired license now fails verification.
	w = s.do("GET", fmt.Sprintf("/license/verify?license_no=%s", licenseNo), "", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	data := s.envelope(w)["data"].(map[string]interface{})
	s.Equal(false, data["valid"])
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}
