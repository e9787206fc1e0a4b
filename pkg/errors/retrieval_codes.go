package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Retrieval engine codes, service 20.
var (
	ErrRetrievalInvalidRequest = Register(New(MakeCode(ServiceRetrieval, CategoryRequest, 1), http.StatusBadRequest, codes.InvalidArgument, "Invalid retrieval request", "طلب استرجاع غير صالح"))
	ErrArtifactNotFound        = Register(New(MakeCode(ServiceRetrieval, CategoryResource, 1), http.StatusNotFound, codes.NotFound, "Retrieval artifact not found", "سجل الاسترجاع غير موجود"))

	// ErrRetrievalExhausted is the only failure surfaced to callers of a run:
	// phase one produced no articles and no successful calls.
	ErrRetrievalExhausted = Register(New(MakeCode(ServiceRetrieval, CategoryUnprocessable, 1), http.StatusUnprocessableEntity, codes.FailedPrecondition, "Retrieval exhausted without results", "تعذر استرجاع أي مواد"))

	ErrHypotheticalGeneration = Register(New(MakeCode(ServiceThirdPartyLLM, CategoryInternal, 1), http.StatusBadGateway, codes.Unavailable, "Hypothetical generation failed", "فشل توليد المادة الافتراضية"))
	ErrSelfAssessment         = Register(New(MakeCode(ServiceThirdPartyLLM, CategoryInternal, 2), http.StatusBadGateway, codes.Unavailable, "Coverage self-assessment failed", "فشل التقييم الذاتي للتغطية"))
	ErrEmbedding              = Register(New(MakeCode(ServiceThirdPartyLLM, CategoryNetwork, 1), http.StatusBadGateway, codes.Unavailable, "Embedding failed", "فشل توليد المتجه"))
	ErrLLMCircuitOpen         = Register(New(MakeCode(ServiceThirdPartyLLM, CategoryNetwork, 2), http.StatusServiceUnavailable, codes.Unavailable, "Language model circuit open", "قاطع الدائرة مفتوح"))

	ErrSearch         = Register(New(MakeCode(ServiceThirdPartyCorpus, CategoryNetwork, 1), http.StatusBadGateway, codes.Unavailable, "Corpus search failed", "فشل البحث في المدونة"))
	ErrCorpusFetch    = Register(New(MakeCode(ServiceThirdPartyCorpus, CategoryNetwork, 2), http.StatusBadGateway, codes.Unavailable, "Corpus fetch failed", "فشل جلب المادة"))
	ErrArticleMissing = Register(New(MakeCode(ServiceThirdPartyCorpus, CategoryResource, 1), http.StatusNotFound, codes.NotFound, "Article not in corpus", "المادة غير موجودة في المدونة"))
)
