package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-capture/internal/capture"
	"github.com/zombor/receipt-capture/internal/scanning"
	"github.com/zombor/receipt-capture/internal/session"
)

var _ = Describe("Server", func() {
	var (
		scanner     *mockScanner
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	serve := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`.*`), server.ServeHTTP)
		}
	}

	uploadRequest := func(path, filename string, data []byte) *http.Request {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest("POST", ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req
	}

	post := func(path string, body []byte) *http.Response {
		resp, err := http.Post(ghttpServer.URL()+path, "application/json", bytes.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	startSession := func() string {
		resp := post("/api/sessions", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var view SessionView
		decode(resp, &view)
		return view.SessionID
	}

	BeforeEach(func() {
		scanner = newMockScanner()
		scanner.record = groceryRecord()
		service = newTestService(newMockDB(), newMockStorage(), scanner, &mockTimeSource{now: time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)})
		auth = BasicAuth{}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		serve()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	Describe("handleStartSession", func() {
		When("no body is sent", func() {
			It("should open a session with the default settings", func() {
				resp := post("/api/sessions", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var view SessionView
				decode(resp, &view)
				Expect(view.SessionID).To(Equal("session-1"))
				Expect(view.Status).To(Equal(session.StatusOpen))
				Expect(view.Settings).To(Equal(session.DefaultSettings()))
			})
		})

		When("the body overrides some settings", func() {
			It("should keep the defaults for the rest", func() {
				resp := post("/api/sessions", []byte(`{"max_images": 3}`))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var view SessionView
				decode(resp, &view)
				Expect(view.Settings.MaxImages).To(Equal(3))
				Expect(view.Settings.AutoDetectEnd).To(BeTrue())
				Expect(view.Settings.MinOverlapConfidence).To(Equal(session.DefaultSettings().MinOverlapConfidence))
			})
		})

		When("the body is not JSON", func() {
			It("should return status Bad Request", func() {
				resp := post("/api/sessions", []byte("not json"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the settings are invalid", func() {
			It("should return status Bad Request", func() {
				resp := post("/api/sessions", []byte(`{"max_images": 0}`))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleAddImage", func() {
		var id string

		BeforeEach(func() {
			scanner.lines = [][]string{{"CORNER MARKET", "Milk 5.00"}}
			id = startSession()
		})

		When("a file is uploaded", func() {
			It("should return the capture result", func() {
				resp, err := http.DefaultClient.Do(uploadRequest("/api/sessions/"+id+"/images", "page.jpg", []byte("fake jpeg")))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var result capture.Result
				decode(resp, &result)
				Expect(result.ImageCount).To(Equal(1))
				Expect(result.Overlap).To(BeNil())
				Expect(result.LastLines).To(Equal([]string{"CORNER MARKET", "Milk 5.00"}))
			})
		})

		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.Close()).To(Succeed())
				resp, err := http.Post(ghttpServer.URL()+"/api/sessions/"+id+"/images", writer.FormDataContentType(), body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the session does not exist", func() {
			It("should return status Not Found", func() {
				resp, err := http.DefaultClient.Do(uploadRequest("/api/sessions/missing/images", "page.jpg", []byte("fake jpeg")))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		When("recognition fails", func() {
			It("should return status Bad Gateway", func() {
				scanner.recognizeErr = errors.New("ocr down")
				resp, err := http.DefaultClient.Do(uploadRequest("/api/sessions/"+id+"/images", "page.png", []byte("fake png")))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			})
		})

		When("the session was aborted", func() {
			It("should return status Conflict", func() {
				resp := post("/api/sessions/"+id+"/abort", nil)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				resp, err := http.DefaultClient.Do(uploadRequest("/api/sessions/"+id+"/images", "page.jpg", []byte("fake jpeg")))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			})
		})
	})

	Describe("handleGetImage", func() {
		var id string

		BeforeEach(func() {
			scanner.lines = [][]string{{"CORNER MARKET"}}
			id = startSession()
			resp, err := http.DefaultClient.Do(uploadRequest("/api/sessions/"+id+"/images", "page.jpg", []byte("fake jpeg")))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		})

		It("should return the stored bytes", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/sessions/" + id + "/images/0")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(Equal([]byte("fake jpeg")))
		})

		When("the index is out of range", func() {
			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/sessions/" + id + "/images/5")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		When("the index is not a number", func() {
			It("should return status Bad Request", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/sessions/" + id + "/images/first")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleCompleteSession", func() {
		When("the session has no images", func() {
			It("should return status Unprocessable Entity", func() {
				id := startSession()
				resp := post("/api/sessions/"+id+"/complete", nil)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			})
		})

		When("the session has images", func() {
			It("should return the merged result and validation report", func() {
				scanner.lines = [][]string{{"CORNER MARKET", "Milk 5.00", "TOTAL 13.00"}}
				id := startSession()
				resp, err := http.DefaultClient.Do(uploadRequest("/api/sessions/"+id+"/images", "page.jpg", []byte("fake jpeg")))
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()

				resp = post("/api/sessions/"+id+"/complete", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var completion Completion
				decode(resp, &completion)
				Expect(completion.Status).To(Equal(session.StatusCompleted))
				Expect(completion.MergedLines).To(HaveLen(3))
				Expect(completion.MergedResult.Total).To(Equal(13.00))
				Expect(completion.Validation).NotTo(BeNil())
			})
		})

		When("extraction fails", func() {
			It("should return status Bad Gateway", func() {
				scanner.lines = [][]string{{"CORNER MARKET"}}
				scanner.extractErr = errors.New("model unavailable")
				id := startSession()
				resp, err := http.DefaultClient.Do(uploadRequest("/api/sessions/"+id+"/images", "page.jpg", []byte("fake jpeg")))
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()

				resp = post("/api/sessions/"+id+"/complete", nil)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			})
		})
	})

	Describe("handleListScans", func() {
		It("should return an empty list when nothing was archived", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/scans")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var scans []*Scan
			decode(resp, &scans)
			Expect(scans).To(BeEmpty())
		})
	})

	Describe("handleGetScan", func() {
		When("the scan does not exist", func() {
			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/scans/missing")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
			server = NewServerWithMux(service, auth, http.NewServeMux())
			serve()
		})

		When("credentials are missing", func() {
			It("should return status Unauthorized", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/scans")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			})
		})

		When("credentials are wrong", func() {
			It("should return status Unauthorized", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/scans", nil)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:wrong")))
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})

		When("credentials are correct", func() {
			It("should return status OK", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/scans", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("admin", "secret")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})

		It("should leave the health check open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("statusFor", func() {
		DescribeTable("maps errors to status codes",
			func(err error, code int) {
				Expect(statusFor(err)).To(Equal(code))
			},
			Entry("session not found", session.ErrSessionNotFound, http.StatusNotFound),
			Entry("scan not found", ErrScanNotFound, http.StatusNotFound),
			Entry("invalid state", session.ErrInvalidState, http.StatusConflict),
			Entry("capacity exceeded", session.ErrCapacityExceeded, http.StatusConflict),
			Entry("empty session", session.ErrEmptySession, http.StatusUnprocessableEntity),
			Entry("extraction failed", scanning.ErrExtractionFailed, http.StatusBadGateway),
			Entry("empty image", capture.ErrEmptyImage, http.StatusBadRequest),
			Entry("anything else", errors.New("boom"), http.StatusInternalServerError),
		)
	})
})
