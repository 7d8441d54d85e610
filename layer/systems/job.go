package systems

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/vkcheck/layer/core"
)

// JobStart runs the job. Whatever it sends on out is handed to OnComplete or OnFailure.
type JobStart func(in interface{}, out chan<- interface{}) error

// JobOnComplete receives the results the job sent before returning.
type JobOnComplete func(results <-chan interface{})

/**
 * @brief Describes a job to be run.
 */
type JobTask struct {
	/** @brief Data to be passed to the entry point upon execution. */
	InputParams interface{}
	/** @brief Invoked when the job starts. Required. */
	OnStart JobStart
	/** @brief Invoked when the job succeeds. Optional. */
	OnComplete JobOnComplete
	/** @brief Invoked when the job fails. Optional. */
	OnFailure JobOnComplete
	/** @brief Invoked after either of the above. Optional. */
	OnCompletionCallback func()
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup

	mutex    sync.Mutex
	isClosed bool
}

var ErrNoWorkers = errors.New("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = errors.New("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = errors.New("job system already shut down")

// resultBuffer bounds what a job may send on its out channel.
const resultBuffer = 16

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
	}

	js.start()

	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job JobTask) {
	results := make(chan interface{}, resultBuffer)
	err := job.OnStart(job.InputParams, results)
	close(results)
	if err != nil {
		core.LogError("%s", err)
		if job.OnFailure != nil {
			job.OnFailure(results)
		}
	} else if job.OnComplete != nil {
		job.OnComplete(results)
	}

	if job.OnCompletionCallback != nil {
		job.OnCompletionCallback()
	}
}

/**
 * @brief Shuts the job system down once every queued job has run.
 */
func (js *JobSystem) Shutdown() error {
	js.mutex.Lock()
	if js.isClosed {
		js.mutex.Unlock()
		return ErrJobSystemClosed
	}
	js.isClosed = true
	close(js.jobQueue)
	js.mutex.Unlock()

	js.wg.Wait()
	return nil
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while the queue is full.
 * @param jt The description of the job to be executed.
 */
func (js *JobSystem) Submit(jt JobTask) error {
	js.mutex.Lock()
	defer js.mutex.Unlock()
	if js.isClosed {
		return ErrJobSystemClosed
	}
	js.jobQueue <- jt
	return nil
}
