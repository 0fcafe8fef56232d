package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/wfunc/bridgeplate/internal/models"
	"gorm.io/gorm"
)

// SerialLogRepositoryTestSuite 串口日志仓储测试套件
type SerialLogRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo *SerialLogRepository
}

func (suite *SerialLogRepositoryTestSuite) SetupSuite() {
	suite.db = SetupTestDB()
	suite.repo = NewSerialLogRepository(suite.db)
}

func (suite *SerialLogRepositoryTestSuite) TearDownSuite() {
	CleanupTestDB(suite.db)
}

func (suite *SerialLogRepositoryTestSuite) SetupTest() {
	suite.db.Exec("DELETE FROM serial_logs")
}

func (suite *SerialLogRepositoryTestSuite) seed() {
	now := time.Now()
	logs := []*models.SerialLog{
		{Mode: models.SerialLogModeLine, Namespace: "RELAY", Method: "getADDR", Command: "RELAY.getADDR(0)",
			Reply: "0", BytesCount: 3, Duration: 4, SessionID: "s1", CreatedAt: now.Add(-3 * time.Minute)},
		{Mode: models.SerialLogModeLine, Namespace: "RELAY", Method: "getADDR", Command: "RELAY.getADDR(1)",
			TimedOut: true, Level: models.SerialLogLevelWarn, Duration: 20000, SessionID: "s1", CreatedAt: now.Add(-2 * time.Minute)},
		{Mode: models.SerialLogModeBlock, Namespace: "ADC", Method: "help", Command: "ADC.help()",
			Reply: "ADC commands:", BytesCount: 120, Duration: 30, SessionID: "s1", CreatedAt: now.Add(-time.Minute)},
		{Mode: models.SerialLogModeLine, Namespace: "DAQC", Method: "getADC", Command: "DAQC.getADC(0, 1)",
			ErrorMsg: "[3002] 串口读取失败", Level: models.SerialLogLevelError, SessionID: "s2", CreatedAt: now},
	}
	suite.Require().NoError(suite.repo.CreateBatch(logs))
}

func (suite *SerialLogRepositoryTestSuite) TestCreate() {
	log := &models.SerialLog{Mode: models.SerialLogModeLine, Command: "BRIDGE.getID()", Reply: "Pi-Plate BRIDGEplate",
		Meta: models.JSONData{"driver": "bugst"}}
	suite.NoError(suite.repo.Create(log))
	suite.NotZero(log.ID)
	suite.NotZero(log.Timestamp)

	got, err := suite.repo.GetByID(log.ID)
	suite.Require().NoError(err)
	suite.Equal("Pi-Plate BRIDGEplate", got.Reply)
	suite.Equal("bugst", got.Meta["driver"])
}

func (suite *SerialLogRepositoryTestSuite) TestCreateBatchEmpty() {
	suite.NoError(suite.repo.CreateBatch(nil))
}

func (suite *SerialLogRepositoryTestSuite) TestQuery() {
	suite.seed()

	logs, total, err := suite.repo.Query(&models.SerialLogQuery{Namespace: "RELAY"})
	suite.Require().NoError(err)
	suite.EqualValues(2, total)
	suite.Len(logs, 2)
	suite.Equal("RELAY.getADDR(1)", logs[0].Command)

	timedOut := true
	logs, total, err = suite.repo.Query(&models.SerialLogQuery{TimedOut: &timedOut})
	suite.Require().NoError(err)
	suite.EqualValues(1, total)
	suite.Equal("RELAY.getADDR(1)", logs[0].Command)

	hasError := false
	_, total, err = suite.repo.Query(&models.SerialLogQuery{HasError: &hasError, Mode: models.SerialLogModeLine})
	suite.Require().NoError(err)
	suite.EqualValues(2, total)

	logs, total, err = suite.repo.Query(&models.SerialLogQuery{Command: "getADDR", OrderBy: "created_at", Limit: 1})
	suite.Require().NoError(err)
	suite.EqualValues(2, total)
	suite.Len(logs, 1)
	suite.Equal("RELAY.getADDR(0)", logs[0].Command)

	_, _, err = suite.repo.Query(&models.SerialLogQuery{OrderBy: "id; DROP TABLE serial_logs"})
	suite.Error(err)
}

func (suite *SerialLogRepositoryTestSuite) TestGetStats() {
	suite.seed()

	stats, err := suite.repo.GetStats(nil, nil)
	suite.Require().NoError(err)
	suite.EqualValues(4, stats.TotalCount)
	suite.EqualValues(1, stats.TotalBlock)
	suite.EqualValues(3, stats.TotalLine)
	suite.EqualValues(1, stats.TotalTimeouts)
	suite.EqualValues(1, stats.TotalErrors)
	suite.EqualValues(123, stats.TotalBytes)
	suite.EqualValues(20000, stats.MaxDuration)
	suite.Equal(map[string]int64{"RELAY": 2, "ADC": 1, "DAQC": 1}, stats.ByNamespace)

	since := time.Now().Add(-90 * time.Second)
	stats, err = suite.repo.GetStats(&since, nil)
	suite.Require().NoError(err)
	suite.EqualValues(2, stats.TotalCount)
}

func (suite *SerialLogRepositoryTestSuite) TestLatestAndErrors() {
	suite.seed()

	logs, err := suite.repo.GetLatest(10, models.SerialLogModeBlock)
	suite.Require().NoError(err)
	suite.Len(logs, 1)

	logs, err = suite.repo.GetErrorLogs(10)
	suite.Require().NoError(err)
	suite.Len(logs, 1)
	suite.Equal("DAQC", logs[0].Namespace)

	logs, err = suite.repo.GetBySessionID("s1")
	suite.Require().NoError(err)
	suite.Len(logs, 3)
}

func (suite *SerialLogRepositoryTestSuite) TestCleanup() {
	old := &models.SerialLog{Mode: models.SerialLogModeLine, Command: "RELAY.getID()", CreatedAt: time.Now().AddDate(0, 0, -10)}
	suite.Require().NoError(suite.repo.Create(old))
	suite.seed()

	deleted, err := suite.repo.CleanupLogs(7)
	suite.Require().NoError(err)
	suite.EqualValues(1, deleted)

	_, err = suite.repo.CleanupLogs(0)
	suite.Error(err)
}

func TestSerialLogRepositorySuite(t *testing.T) {
	suite.Run(t, new(SerialLogRepositoryTestSuite))
}
