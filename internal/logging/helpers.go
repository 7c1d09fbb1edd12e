package logging

// Per-category convenience wrappers, matching the call-site idiom used
// throughout the store/dispatch/cascade packages (logging.Store("...", ...)
// rather than logging.Get(logging.CategoryStore).Info("...", ...)).

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...interface{})  { Get(CategoryStore).Warn(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

func Anchor(format string, args ...interface{})      { Get(CategoryAnchor).Info(format, args...) }
func AnchorDebug(format string, args ...interface{}) { Get(CategoryAnchor).Debug(format, args...) }

func Docstream(format string, args ...interface{})      { Get(CategoryDocstream).Info(format, args...) }
func DocstreamDebug(format string, args ...interface{}) { Get(CategoryDocstream).Debug(format, args...) }

func Steps(format string, args ...interface{})      { Get(CategorySteps).Info(format, args...) }
func StepsDebug(format string, args ...interface{}) { Get(CategorySteps).Debug(format, args...) }

func Proof(format string, args ...interface{})      { Get(CategoryProof).Info(format, args...) }
func ProofDebug(format string, args ...interface{}) { Get(CategoryProof).Debug(format, args...) }

func Jobs(format string, args ...interface{})      { Get(CategoryJobs).Info(format, args...) }
func JobsDebug(format string, args ...interface{}) { Get(CategoryJobs).Debug(format, args...) }

func Cascade(format string, args ...interface{})      { Get(CategoryCascade).Info(format, args...) }
func CascadeDebug(format string, args ...interface{}) { Get(CategoryCascade).Debug(format, args...) }

func Reasoning(format string, args ...interface{})      { Get(CategoryReasoning).Info(format, args...) }
func ReasoningDebug(format string, args ...interface{}) { Get(CategoryReasoning).Debug(format, args...) }

func Portal(format string, args ...interface{})      { Get(CategoryPortal).Info(format, args...) }
func PortalDebug(format string, args ...interface{}) { Get(CategoryPortal).Debug(format, args...) }

func Budget(format string, args ...interface{})      { Get(CategoryBudget).Info(format, args...) }
func BudgetDebug(format string, args ...interface{}) { Get(CategoryBudget).Debug(format, args...) }

func Dispatch(format string, args ...interface{})      { Get(CategoryDispatch).Info(format, args...) }
func DispatchDebug(format string, args ...interface{}) { Get(CategoryDispatch).Debug(format, args...) }
func DispatchError(format string, args ...interface{}) { Get(CategoryDispatch).Error(format, args...) }
